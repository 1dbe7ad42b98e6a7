package watch

import (
	"errors"
	"fmt"
	"time"

	"dropwatch/services/watch/notify"
)

// ErrConfiguration marks a fatal startup problem: the run aborts before
// any network activity.
var ErrConfiguration = errors.New("configuration error")

// Config is the complete, immutable watch configuration. It is built
// once in the command layer and passed into every component; nothing
// below reads ambient process state.
type Config struct {
	// DiscoverUrl is the search/discover page to watch. Required.
	DiscoverUrl string `json:"discover_url"`
	// LoginUrl is only used by the save-state flow.
	LoginUrl string `json:"login_url"`

	VenueId string `json:"venue_id"`
	Sport   string `json:"sport"`
	// ProgramKeywords defaults to the drop-in style keyword set.
	ProgramKeywords []string `json:"program_keywords"`
	// VenueName optionally narrows matches by venue display name.
	VenueName string `json:"venue_name"`

	Recipients         []string          `json:"recipients"`
	Smtp               notify.SmtpConfig `json:"smtp"`
	SmsMode            bool              `json:"sms_mode"`
	BatchNotifications bool              `json:"batch_notifications"`

	// StorageStateB64 is the base64 credential snapshot for signup.
	StorageStateB64 string `json:"storage_state_b64"`
	EnableSignup    bool   `json:"enable_signup"`

	SeenFile string `json:"seen_file"`
	// SeenTtlDays bounds how long notified ids are remembered. Omitted
	// means the 60 day default; 0 or negative disables eviction.
	SeenTtlDays *int `json:"seen_ttl_days"`

	// HistoryDb is a sqlite path or libsql:// url for the run history
	// store. Empty disables history.
	HistoryDb string `json:"history_db"`

	DebugDumpDir string `json:"debug_dump_dir"`

	SettleMs  int `json:"settle_ms"`
	TimeoutMs int `json:"timeout_ms"`
}

func (c Config) Validate() error {
	if c.DiscoverUrl == "" {
		return fmt.Errorf("%w: discover_url is required", ErrConfiguration)
	}
	if c.VenueId == "" {
		return fmt.Errorf("%w: venue_id is required", ErrConfiguration)
	}
	if c.Sport == "" {
		return fmt.Errorf("%w: sport is required", ErrConfiguration)
	}
	if len(c.Recipients) > 0 && c.Smtp.Server == "" {
		return fmt.Errorf("%w: recipients set but smtp.server missing", ErrConfiguration)
	}
	return nil
}

func (c Config) SeenFilePath() string {
	if c.SeenFile == "" {
		return "seen.json"
	}
	return c.SeenFile
}

func (c Config) SeenTtl() time.Duration {
	if c.SeenTtlDays == nil {
		return 60 * 24 * time.Hour
	}
	if *c.SeenTtlDays <= 0 {
		return 0
	}
	return time.Duration(*c.SeenTtlDays) * 24 * time.Hour
}

func (c Config) SettleDelay() time.Duration {
	if c.SettleMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.SettleMs) * time.Millisecond
}

func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
