package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/curbwatch/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for detection and alert
// parameters. The schema matches the /api/config endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
//
// Every field is optional. Unset fields fall back to the defaults returned by
// the Get* accessors, so partial configs are safe.
type TuningConfig struct {
	// Parking state machine
	MinDrivingDuration *string `json:"min_driving_duration,omitempty"` // duration string like "60s"
	DebounceWindow     *string `json:"debounce_window,omitempty"`
	MinDriveBeforePark *string `json:"min_drive_before_park,omitempty"`
	DepartureDuration  *string `json:"departure_duration,omitempty"`
	ColdStartMaxAge    *string `json:"cold_start_max_age,omitempty"`

	// Location snapshot capture
	LocationStaleness *string `json:"location_staleness,omitempty"`

	// Dwell visit guard chain
	MinDwell          *string  `json:"min_dwell,omitempty"`
	VisitMaxAge       *string  `json:"visit_max_age,omitempty"`
	DuplicateRadiusM  *float64 `json:"duplicate_radius_m,omitempty"`
	DuplicateWindow   *string  `json:"duplicate_window,omitempty"`
	StuckThreshold    *string  `json:"stuck_threshold,omitempty"`
	MovingSpeedMps    *float64 `json:"moving_speed_mps,omitempty"`
	LiveFixMaxAge     *string  `json:"live_fix_max_age,omitempty"`
	LockoutRadiusM    *float64 `json:"lockout_radius_m,omitempty"`
	LockoutDuration   *string  `json:"lockout_duration,omitempty"`
	ParkingHistoryLen *int     `json:"parking_history_len,omitempty"`

	// Camera proximity engine
	AlertsEnabled          *bool    `json:"alerts_enabled,omitempty"`
	SpeedAlertsEnabled     *bool    `json:"speed_alerts_enabled,omitempty"`
	RedLightAlertsEnabled  *bool    `json:"redlight_alerts_enabled,omitempty"`
	AlertVolume            *float64 `json:"alert_volume,omitempty"`
	AccuracyCeilingM       *float64 `json:"accuracy_ceiling_m,omitempty"`
	Lookahead              *string  `json:"lookahead,omitempty"`
	BaseRadiusM            *float64 `json:"base_radius_m,omitempty"`
	MaxRadiusM             *float64 `json:"max_radius_m,omitempty"`
	AlertCooldown          *string  `json:"alert_cooldown,omitempty"`
	ClearanceRadiusM       *float64 `json:"clearance_radius_m,omitempty"`
	HeadingToleranceDeg    *float64 `json:"heading_tolerance_deg,omitempty"`
	BearingToleranceDeg    *float64 `json:"bearing_tolerance_deg,omitempty"`
	GlobalAlertInterval    *string  `json:"global_alert_interval,omitempty"`
	SpeedCameraMinSpeedMps *float64 `json:"speed_camera_min_speed_mps,omitempty"`
	RedLightMinSpeedMps    *float64 `json:"redlight_min_speed_mps,omitempty"`
	SpeedCameraActiveStart *string  `json:"speed_camera_active_start,omitempty"` // HH:MM local time
	SpeedCameraActiveEnd   *string  `json:"speed_camera_active_end,omitempty"`   // HH:MM local time
	Timezone               *string  `json:"timezone,omitempty"`
	HeadingFailOpen        *bool    `json:"heading_fail_open,omitempty"`
	CameraMovingSpeedMps   *float64 `json:"camera_moving_speed_mps,omitempty"`
	DisplayUnits           *string  `json:"display_units,omitempty"`

	// Evidence recorder
	EvidenceWindow   *string  `json:"evidence_window,omitempty"`
	EvidenceCapacity *int     `json:"evidence_capacity,omitempty"`
	EvidenceTTL      *string  `json:"evidence_ttl,omitempty"`
	EvidenceTypes    []string `json:"evidence_types,omitempty"`
	SampleRingSize   *int     `json:"sample_ring_size,omitempty"`

	// Decision log
	DecisionLogMaxBytes *int64 `json:"decision_log_max_bytes,omitempty"`

	// Event loop
	QueueSize    *int    `json:"queue_size,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults. It matches config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		MinDrivingDuration: ptrString(c.GetMinDrivingDuration().String()),
		DebounceWindow:     ptrString(c.GetDebounceWindow().String()),
		MinDriveBeforePark: ptrString(c.GetMinDriveBeforePark().String()),
		DepartureDuration:  ptrString(c.GetDepartureDuration().String()),
		ColdStartMaxAge:    ptrString(c.GetColdStartMaxAge().String()),

		LocationStaleness: ptrString(c.GetLocationStaleness().String()),

		MinDwell:          ptrString(c.GetMinDwell().String()),
		VisitMaxAge:       ptrString(c.GetVisitMaxAge().String()),
		DuplicateRadiusM:  ptrFloat64(c.GetDuplicateRadiusM()),
		DuplicateWindow:   ptrString(c.GetDuplicateWindow().String()),
		StuckThreshold:    ptrString(c.GetStuckThreshold().String()),
		MovingSpeedMps:    ptrFloat64(c.GetMovingSpeedMps()),
		LiveFixMaxAge:     ptrString(c.GetLiveFixMaxAge().String()),
		LockoutRadiusM:    ptrFloat64(c.GetLockoutRadiusM()),
		LockoutDuration:   ptrString(c.GetLockoutDuration().String()),
		ParkingHistoryLen: ptrInt(c.GetParkingHistoryLen()),

		AlertsEnabled:          ptrBool(c.GetAlertsEnabled()),
		SpeedAlertsEnabled:     ptrBool(c.GetSpeedAlertsEnabled()),
		RedLightAlertsEnabled:  ptrBool(c.GetRedLightAlertsEnabled()),
		AlertVolume:            ptrFloat64(c.GetAlertVolume()),
		AccuracyCeilingM:       ptrFloat64(c.GetAccuracyCeilingM()),
		Lookahead:              ptrString(c.GetLookahead().String()),
		BaseRadiusM:            ptrFloat64(c.GetBaseRadiusM()),
		MaxRadiusM:             ptrFloat64(c.GetMaxRadiusM()),
		AlertCooldown:          ptrString(c.GetAlertCooldown().String()),
		ClearanceRadiusM:       ptrFloat64(c.GetClearanceRadiusM()),
		HeadingToleranceDeg:    ptrFloat64(c.GetHeadingToleranceDeg()),
		BearingToleranceDeg:    ptrFloat64(c.GetBearingToleranceDeg()),
		GlobalAlertInterval:    ptrString(c.GetGlobalAlertInterval().String()),
		SpeedCameraMinSpeedMps: ptrFloat64(c.GetSpeedCameraMinSpeedMps()),
		RedLightMinSpeedMps:    ptrFloat64(c.GetRedLightMinSpeedMps()),
		SpeedCameraActiveStart: ptrString("06:00"),
		SpeedCameraActiveEnd:   ptrString("23:00"),
		Timezone:               ptrString(c.GetTimezone()),
		HeadingFailOpen:        ptrBool(c.GetHeadingFailOpen()),
		CameraMovingSpeedMps:   ptrFloat64(c.GetCameraMovingSpeedMps()),
		DisplayUnits:           ptrString(c.GetDisplayUnits()),

		EvidenceWindow:   ptrString(c.GetEvidenceWindow().String()),
		EvidenceCapacity: ptrInt(c.GetEvidenceCapacity()),
		EvidenceTTL:      ptrString(c.GetEvidenceTTL().String()),
		EvidenceTypes:    c.GetEvidenceTypes(),
		SampleRingSize:   ptrInt(c.GetSampleRingSize()),

		DecisionLogMaxBytes: ptrInt64(c.GetDecisionLogMaxBytes()),

		QueueSize:    ptrInt(c.GetQueueSize()),
		TickInterval: ptrString(c.GetTickInterval().String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/x
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Merge returns a copy of c with every field set in patch applied on top.
// The result is validated before it is returned.
func (c *TuningConfig) Merge(patch *TuningConfig) (*TuningConfig, error) {
	base, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	over, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	out := EmptyTuningConfig()
	if err := json.Unmarshal(base, out); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(over, out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"min_driving_duration":  c.MinDrivingDuration,
		"debounce_window":       c.DebounceWindow,
		"min_drive_before_park": c.MinDriveBeforePark,
		"departure_duration":    c.DepartureDuration,
		"cold_start_max_age":    c.ColdStartMaxAge,
		"location_staleness":    c.LocationStaleness,
		"min_dwell":             c.MinDwell,
		"visit_max_age":         c.VisitMaxAge,
		"duplicate_window":      c.DuplicateWindow,
		"stuck_threshold":       c.StuckThreshold,
		"live_fix_max_age":      c.LiveFixMaxAge,
		"lockout_duration":      c.LockoutDuration,
		"lookahead":             c.Lookahead,
		"alert_cooldown":        c.AlertCooldown,
		"global_alert_interval": c.GlobalAlertInterval,
		"evidence_window":       c.EvidenceWindow,
		"evidence_ttl":          c.EvidenceTTL,
		"tick_interval":         c.TickInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	nonNegative := map[string]*float64{
		"duplicate_radius_m":         c.DuplicateRadiusM,
		"moving_speed_mps":           c.MovingSpeedMps,
		"lockout_radius_m":           c.LockoutRadiusM,
		"accuracy_ceiling_m":         c.AccuracyCeilingM,
		"base_radius_m":              c.BaseRadiusM,
		"max_radius_m":               c.MaxRadiusM,
		"clearance_radius_m":         c.ClearanceRadiusM,
		"speed_camera_min_speed_mps": c.SpeedCameraMinSpeedMps,
		"redlight_min_speed_mps":     c.RedLightMinSpeedMps,
		"camera_moving_speed_mps":    c.CameraMovingSpeedMps,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.GetBaseRadiusM() > c.GetMaxRadiusM() {
		return fmt.Errorf("base_radius_m (%.1f) must not exceed max_radius_m (%.1f)", c.GetBaseRadiusM(), c.GetMaxRadiusM())
	}

	for name, v := range map[string]*float64{
		"heading_tolerance_deg": c.HeadingToleranceDeg,
		"bearing_tolerance_deg": c.BearingToleranceDeg,
	} {
		if v != nil && (*v < 0 || *v > 180) {
			return fmt.Errorf("%s must be between 0 and 180, got %f", name, *v)
		}
	}

	if c.AlertVolume != nil && (*c.AlertVolume < 0 || *c.AlertVolume > 1) {
		return fmt.Errorf("alert_volume must be between 0 and 1, got %f", *c.AlertVolume)
	}

	for name, v := range map[string]*string{
		"speed_camera_active_start": c.SpeedCameraActiveStart,
		"speed_camera_active_end":   c.SpeedCameraActiveEnd,
	} {
		if v == nil {
			continue
		}
		if _, err := ParseClock(*v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}
	if c.DisplayUnits != nil && !units.IsValid(*c.DisplayUnits) {
		return fmt.Errorf("invalid display_units %q: must be one of %s", *c.DisplayUnits, units.NamesString())
	}

	for _, t := range c.EvidenceTypes {
		if t != "speed" && t != "redlight" {
			return fmt.Errorf("unknown evidence type %q", t)
		}
	}

	for name, v := range map[string]*int{
		"evidence_capacity":   c.EvidenceCapacity,
		"sample_ring_size":    c.SampleRingSize,
		"queue_size":          c.QueueSize,
		"parking_history_len": c.ParkingHistoryLen,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	if c.DecisionLogMaxBytes != nil && *c.DecisionLogMaxBytes < 1024 {
		return fmt.Errorf("decision_log_max_bytes must be at least 1024, got %d", *c.DecisionLogMaxBytes)
	}

	return nil
}

// ParseClock parses an HH:MM wall-clock time into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetMinDrivingDuration returns how long automotive classification must be
// sustained before IDLE becomes DRIVING.
func (c *TuningConfig) GetMinDrivingDuration() time.Duration {
	return durationOr(c.MinDrivingDuration, 60*time.Second)
}

// GetDebounceWindow returns how long stillness must hold before PARKED.
func (c *TuningConfig) GetDebounceWindow() time.Duration {
	return durationOr(c.DebounceWindow, 5*time.Second)
}

// GetMinDriveBeforePark returns the shortest drive that may end in PARKED.
func (c *TuningConfig) GetMinDriveBeforePark() time.Duration {
	return durationOr(c.MinDriveBeforePark, 60*time.Second)
}

// GetDepartureDuration returns how long automotive classification must be
// sustained before PARKED becomes DRIVING.
func (c *TuningConfig) GetDepartureDuration() time.Duration {
	return durationOr(c.DepartureDuration, 10*time.Second)
}

func (c *TuningConfig) GetColdStartMaxAge() time.Duration {
	return durationOr(c.ColdStartMaxAge, 2*time.Hour)
}

func (c *TuningConfig) GetLocationStaleness() time.Duration {
	return durationOr(c.LocationStaleness, 2*time.Minute)
}

func (c *TuningConfig) GetMinDwell() time.Duration {
	return durationOr(c.MinDwell, 180*time.Second)
}

func (c *TuningConfig) GetVisitMaxAge() time.Duration {
	return durationOr(c.VisitMaxAge, 2*time.Hour)
}

func (c *TuningConfig) GetDuplicateRadiusM() float64 {
	return floatOr(c.DuplicateRadiusM, 200)
}

func (c *TuningConfig) GetDuplicateWindow() time.Duration {
	return durationOr(c.DuplicateWindow, 30*time.Minute)
}

// GetStuckThreshold returns how long the machine may sit in DRIVING or
// PARKING_PENDING before a dwell visit may correct it.
func (c *TuningConfig) GetStuckThreshold() time.Duration {
	return durationOr(c.StuckThreshold, 10*time.Minute)
}

func (c *TuningConfig) GetMovingSpeedMps() float64 {
	return floatOr(c.MovingSpeedMps, 3.0)
}

func (c *TuningConfig) GetLiveFixMaxAge() time.Duration {
	return durationOr(c.LiveFixMaxAge, 2*time.Minute)
}

func (c *TuningConfig) GetLockoutRadiusM() float64 {
	return floatOr(c.LockoutRadiusM, 150)
}

func (c *TuningConfig) GetLockoutDuration() time.Duration {
	return durationOr(c.LockoutDuration, 30*time.Minute)
}

func (c *TuningConfig) GetParkingHistoryLen() int {
	return intOr(c.ParkingHistoryLen, 16)
}

func (c *TuningConfig) GetAlertsEnabled() bool {
	return boolOr(c.AlertsEnabled, true)
}

func (c *TuningConfig) GetSpeedAlertsEnabled() bool {
	return boolOr(c.SpeedAlertsEnabled, true)
}

func (c *TuningConfig) GetRedLightAlertsEnabled() bool {
	return boolOr(c.RedLightAlertsEnabled, true)
}

func (c *TuningConfig) GetAlertVolume() float64 {
	return floatOr(c.AlertVolume, 0.8)
}

// GetAccuracyCeilingM returns the horizontal accuracy above which a fix is
// ignored by the camera engine.
func (c *TuningConfig) GetAccuracyCeilingM() float64 {
	return floatOr(c.AccuracyCeilingM, 120)
}

func (c *TuningConfig) GetLookahead() time.Duration {
	return durationOr(c.Lookahead, 10*time.Second)
}

func (c *TuningConfig) GetBaseRadiusM() float64 {
	return floatOr(c.BaseRadiusM, 150)
}

func (c *TuningConfig) GetMaxRadiusM() float64 {
	return floatOr(c.MaxRadiusM, 250)
}

func (c *TuningConfig) GetAlertCooldown() time.Duration {
	return durationOr(c.AlertCooldown, 180*time.Second)
}

func (c *TuningConfig) GetClearanceRadiusM() float64 {
	return floatOr(c.ClearanceRadiusM, 400)
}

func (c *TuningConfig) GetHeadingToleranceDeg() float64 {
	return floatOr(c.HeadingToleranceDeg, 45)
}

func (c *TuningConfig) GetBearingToleranceDeg() float64 {
	return floatOr(c.BearingToleranceDeg, 30)
}

func (c *TuningConfig) GetGlobalAlertInterval() time.Duration {
	return durationOr(c.GlobalAlertInterval, 5*time.Second)
}

func (c *TuningConfig) GetSpeedCameraMinSpeedMps() float64 {
	return floatOr(c.SpeedCameraMinSpeedMps, 3.2)
}

func (c *TuningConfig) GetRedLightMinSpeedMps() float64 {
	return floatOr(c.RedLightMinSpeedMps, 1.0)
}

// GetSpeedCameraActiveWindow returns the local-time window, as offsets from
// midnight, during which speed cameras are enforced.
func (c *TuningConfig) GetSpeedCameraActiveWindow() (start, end time.Duration) {
	start, end = 6*time.Hour, 23*time.Hour
	if c.SpeedCameraActiveStart != nil {
		if d, err := ParseClock(*c.SpeedCameraActiveStart); err == nil {
			start = d
		}
	}
	if c.SpeedCameraActiveEnd != nil {
		if d, err := ParseClock(*c.SpeedCameraActiveEnd); err == nil {
			end = d
		}
	}
	return start, end
}

func (c *TuningConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "America/Chicago"
	}
	return *c.Timezone
}

// GetLocation loads the configured timezone, falling back to UTC.
func (c *TuningConfig) GetLocation() *time.Location {
	loc, err := units.LoadZone(c.GetTimezone())
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *TuningConfig) GetHeadingFailOpen() bool {
	return boolOr(c.HeadingFailOpen, true)
}

func (c *TuningConfig) GetCameraMovingSpeedMps() float64 {
	return floatOr(c.CameraMovingSpeedMps, 1.0)
}

func (c *TuningConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.MPH
	}
	return *c.DisplayUnits
}

func (c *TuningConfig) GetEvidenceWindow() time.Duration {
	return durationOr(c.EvidenceWindow, 30*time.Second)
}

func (c *TuningConfig) GetEvidenceCapacity() int {
	return intOr(c.EvidenceCapacity, 20)
}

func (c *TuningConfig) GetEvidenceTTL() time.Duration {
	return durationOr(c.EvidenceTTL, 24*time.Hour)
}

// GetEvidenceTypes returns the camera types whose alerts capture evidence.
func (c *TuningConfig) GetEvidenceTypes() []string {
	if len(c.EvidenceTypes) == 0 {
		return []string{"speed"}
	}
	out := make([]string, len(c.EvidenceTypes))
	copy(out, c.EvidenceTypes)
	return out
}

func (c *TuningConfig) GetSampleRingSize() int {
	return intOr(c.SampleRingSize, 512)
}

func (c *TuningConfig) GetDecisionLogMaxBytes() int64 {
	if c.DecisionLogMaxBytes == nil {
		return 1 << 20
	}
	return *c.DecisionLogMaxBytes
}

func (c *TuningConfig) GetQueueSize() int {
	return intOr(c.QueueSize, 256)
}

func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, time.Second)
}
