package db

import (
	"time"
)

// SyncStatus represents the outcome of one sync run.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial" // Kept for rows written by older deployments
	SyncStatusError   SyncStatus = "error"   // Run aborted before or during a directional pass
)

// SyncDirection represents which directional passes a sync runs.
type SyncDirection string

const (
	SyncDirectionBidirectional  SyncDirection = "bidirectional"
	SyncDirectionSourceToTarget SyncDirection = "source_to_target"
	SyncDirectionTargetToSource SyncDirection = "target_to_source"
)

// ValidSyncDirections contains all valid sync direction values.
var ValidSyncDirections = map[SyncDirection]bool{
	SyncDirectionBidirectional:  true,
	SyncDirectionSourceToTarget: true,
	SyncDirectionTargetToSource: true,
}

// IsValid returns true if the sync direction is a known valid value.
func (sd SyncDirection) IsValid() bool {
	return ValidSyncDirections[sd]
}

// Includes reports whether a sync configured with sd runs the given pass.
// pass must be SyncDirectionSourceToTarget or SyncDirectionTargetToSource.
func (sd SyncDirection) Includes(pass SyncDirection) bool {
	return sd == SyncDirectionBidirectional || sd == pass
}

// FilterType controls which source events are propagated.
type FilterType string

const (
	FilterAll          FilterType = "all"
	FilterAcceptedOnly FilterType = "accepted_only"
)

// ValidFilterTypes contains all valid filter type values.
var ValidFilterTypes = map[FilterType]bool{
	FilterAll:          true,
	FilterAcceptedOnly: true,
}

// IsValid returns true if the filter type is a known valid value.
func (ft FilterType) IsValid() bool {
	return ValidFilterTypes[ft]
}

// Defaults applied when a connection or settings row is created.
const (
	DefaultCalendarPrefix  = "Personal"
	DefaultColorTag        = "#3B82F6"
	DefaultPlaceholderText = "Busy"
	DefaultProvider        = "google"
)

// User represents a user in the system.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connection is one linked calendar account and its OAuth credentials.
type Connection struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	Provider          string      `json:"provider"`
	ProviderAccountID string      `json:"provider_account_id"`
	AccountEmail      string      `json:"account_email"`
	AccessToken       string      `json:"-"` // Never include in JSON
	RefreshToken      string      `json:"-"` // Never include in JSON
	TokenExpiresAt    time.Time   `json:"token_expires_at"`
	CalendarPrefix    string      `json:"calendar_prefix"`
	ColorTag          string      `json:"color_tag"`
	IsActive          bool        `json:"is_active"`
	Calendars         []*Calendar `json:"calendars,omitempty"` // Populated by handlers
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Calendar is one calendar owned by a connection.
type Calendar struct {
	ID                 string    `json:"id"`
	ConnectionID       string    `json:"connection_id"`
	ProviderCalendarID string    `json:"provider_calendar_id"`
	Name               string    `json:"name"`
	IsPrimary          bool      `json:"is_primary"`
	TimeZone           string    `json:"time_zone"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Sync pairs two calendars.
type Sync struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	SourceCalendarID string        `json:"source_calendar_id"`
	TargetCalendarID string        `json:"target_calendar_id"`
	SyncDirection    SyncDirection `json:"sync_direction"`
	IsActive         bool          `json:"is_active"`
	LastSyncedAt     *time.Time    `json:"last_synced_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// DirectionSettings configures one directional pass.
type DirectionSettings struct {
	PrivacyMode     bool       `json:"privacy_mode"`
	PlaceholderText string     `json:"placeholder_text"`
	EventFilterType FilterType `json:"event_filter_type"`
	Prefix          string     `json:"prefix"`
}

// DefaultDirectionSettings returns the settings a new sync starts with.
func DefaultDirectionSettings() DirectionSettings {
	return DirectionSettings{
		PlaceholderText: DefaultPlaceholderText,
		EventFilterType: FilterAll,
	}
}

// SyncSettings holds the per-direction settings of a sync.
type SyncSettings struct {
	ID             string            `json:"id"`
	SyncID         string            `json:"sync_id"`
	SourceToTarget DirectionSettings `json:"source_to_target"`
	TargetToSource DirectionSettings `json:"target_to_source"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ForDirection returns the settings for a directional pass.
func (s *SyncSettings) ForDirection(pass SyncDirection) DirectionSettings {
	if pass == SyncDirectionTargetToSource {
		return s.TargetToSource
	}
	return s.SourceToTarget
}

// DirectionPatch is a partial update of DirectionSettings. Nil fields are
// left unchanged.
type DirectionPatch struct {
	PrivacyMode     *bool       `json:"privacy_mode,omitempty"`
	PlaceholderText *string     `json:"placeholder_text,omitempty"`
	EventFilterType *FilterType `json:"event_filter_type,omitempty"`
	Prefix          *string     `json:"prefix,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p DirectionPatch) IsEmpty() bool {
	return p.PrivacyMode == nil && p.PlaceholderText == nil && p.EventFilterType == nil && p.Prefix == nil
}

// Apply returns ds with the patch applied.
func (p DirectionPatch) Apply(ds DirectionSettings) DirectionSettings {
	if p.PrivacyMode != nil {
		ds.PrivacyMode = *p.PrivacyMode
	}
	if p.PlaceholderText != nil {
		ds.PlaceholderText = *p.PlaceholderText
	}
	if p.EventFilterType != nil {
		ds.EventFilterType = *p.EventFilterType
	}
	if p.Prefix != nil {
		ds.Prefix = *p.Prefix
	}
	return ds
}

// SettingsPatch is a partial update of SyncSettings.
type SettingsPatch struct {
	SourceToTarget DirectionPatch
	TargetToSource DirectionPatch
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.SourceToTarget.IsEmpty() && p.TargetToSource.IsEmpty()
}

// Apply applies the patch to s in place.
func (p SettingsPatch) Apply(s *SyncSettings) {
	s.SourceToTarget = p.SourceToTarget.Apply(s.SourceToTarget)
	s.TargetToSource = p.TargetToSource.Apply(s.TargetToSource)
}

// SyncedEvent maps a source event to the copy written on the other side.
type SyncedEvent struct {
	ID                string    `json:"id"`
	SyncID            string    `json:"sync_id"`
	SourceEventID     string    `json:"source_event_id"`
	TargetEventID     string    `json:"target_event_id"`
	SourceCalendarID  string    `json:"source_calendar_id"`
	TargetCalendarID  string    `json:"target_calendar_id"`
	LastSourceUpdated time.Time `json:"last_source_updated"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SyncLog represents the record of one sync run.
type SyncLog struct {
	ID              string     `json:"id"`
	SyncID          string     `json:"sync_id"`
	Status          SyncStatus `json:"status"`
	EventsProcessed int        `json:"events_processed"`
	EventsCreated   int        `json:"events_created"`
	EventsUpdated   int        `json:"events_updated"`
	EventsDeleted   int        `json:"events_deleted"`
	EventsFailed    int        `json:"events_failed"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at"`
}

// Duration returns how long the run took.
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}
