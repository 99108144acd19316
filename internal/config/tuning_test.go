package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.MinDrivingDuration == nil {
		t.Fatal("Expected MinDrivingDuration to be populated")
	}
	if cfg.GetMinDrivingDuration() != 60*time.Second {
		t.Errorf("GetMinDrivingDuration() = %v, want 60s", cfg.GetMinDrivingDuration())
	}
	if cfg.GetDebounceWindow() != 5*time.Second {
		t.Errorf("GetDebounceWindow() = %v, want 5s", cfg.GetDebounceWindow())
	}
	if cfg.GetMinDwell() != 180*time.Second {
		t.Errorf("GetMinDwell() = %v, want 180s", cfg.GetMinDwell())
	}
	if cfg.GetAccuracyCeilingM() != 120 {
		t.Errorf("GetAccuracyCeilingM() = %f, want 120", cfg.GetAccuracyCeilingM())
	}
	if cfg.GetBaseRadiusM() != 150 || cfg.GetMaxRadiusM() != 250 {
		t.Errorf("radius bounds = [%f, %f], want [150, 250]", cfg.GetBaseRadiusM(), cfg.GetMaxRadiusM())
	}
	if cfg.GetAlertCooldown() != 180*time.Second {
		t.Errorf("GetAlertCooldown() = %v, want 180s", cfg.GetAlertCooldown())
	}
	if cfg.GetGlobalAlertInterval() != 5*time.Second {
		t.Errorf("GetGlobalAlertInterval() = %v, want 5s", cfg.GetGlobalAlertInterval())
	}
	if !cfg.GetHeadingFailOpen() {
		t.Error("GetHeadingFailOpen() = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()
	start, end := cfg.GetSpeedCameraActiveWindow()
	if start != 6*time.Hour || end != 23*time.Hour {
		t.Errorf("active window = %v..%v, want 6h..23h", start, end)
	}
	if got := cfg.GetEvidenceTypes(); len(got) != 1 || got[0] != "speed" {
		t.Errorf("GetEvidenceTypes() = %v, want [speed]", got)
	}
	if cfg.GetLocation().String() != "America/Chicago" {
		t.Errorf("GetLocation() = %v", cfg.GetLocation())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "min_driving_duration": "45s",
  "debounce_window": "8s",
  "base_radius_m": 100,
  "alerts_enabled": false,
  "speed_camera_active_start": "07:30",
  "evidence_types": ["speed", "redlight"]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	if cfg.GetMinDrivingDuration() != 45*time.Second {
		t.Errorf("GetMinDrivingDuration() = %v, want 45s", cfg.GetMinDrivingDuration())
	}
	if cfg.GetDebounceWindow() != 8*time.Second {
		t.Errorf("GetDebounceWindow() = %v, want 8s", cfg.GetDebounceWindow())
	}
	if cfg.GetBaseRadiusM() != 100 {
		t.Errorf("GetBaseRadiusM() = %f, want 100", cfg.GetBaseRadiusM())
	}
	if cfg.GetAlertsEnabled() {
		t.Error("GetAlertsEnabled() = true, want false")
	}
	start, _ := cfg.GetSpeedCameraActiveWindow()
	if start != 7*time.Hour+30*time.Minute {
		t.Errorf("active start = %v, want 7h30m", start)
	}
	if len(cfg.GetEvidenceTypes()) != 2 {
		t.Errorf("GetEvidenceTypes() = %v", cfg.GetEvidenceTypes())
	}
	// unspecified fields keep their defaults
	if cfg.GetMaxRadiusM() != 250 {
		t.Errorf("GetMaxRadiusM() = %f, want 250", cfg.GetMaxRadiusM())
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "config.yaml", "{}", ".json extension"},
		{"bad json", "bad.json", "{not json", "failed to parse"},
		{"bad duration", "dur.json", `{"debounce_window": "soon"}`, "debounce_window"},
		{"radius inverted", "radius.json", `{"base_radius_m": 300, "max_radius_m": 200}`, "must not exceed"},
		{"bad timezone", "tz.json", `{"timezone": "Mars/Olympus"}`, "invalid timezone"},
		{"bad clock", "clock.json", `{"speed_camera_active_end": "25:00"}`, "speed_camera_active_end"},
		{"bad volume", "vol.json", `{"alert_volume": 1.5}`, "alert_volume"},
		{"bad evidence type", "ev.json", `{"evidence_types": ["parking"]}`, "unknown evidence type"},
		{"bad tolerance", "tol.json", `{"heading_tolerance_deg": 270}`, "heading_tolerance_deg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMustLoadDefaultConfigMatchesBuiltins(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := EmptyTuningConfig()

	if fromFile.GetMinDrivingDuration() != builtin.GetMinDrivingDuration() {
		t.Errorf("min_driving_duration drift: file=%v builtin=%v", fromFile.GetMinDrivingDuration(), builtin.GetMinDrivingDuration())
	}
	if fromFile.GetClearanceRadiusM() != builtin.GetClearanceRadiusM() {
		t.Errorf("clearance_radius_m drift: file=%v builtin=%v", fromFile.GetClearanceRadiusM(), builtin.GetClearanceRadiusM())
	}
	if fromFile.GetEvidenceTTL() != builtin.GetEvidenceTTL() {
		t.Errorf("evidence_ttl drift: file=%v builtin=%v", fromFile.GetEvidenceTTL(), builtin.GetEvidenceTTL())
	}
	if fromFile.GetSpeedCameraMinSpeedMps() != builtin.GetSpeedCameraMinSpeedMps() {
		t.Errorf("speed min drift: file=%v builtin=%v", fromFile.GetSpeedCameraMinSpeedMps(), builtin.GetSpeedCameraMinSpeedMps())
	}
}

func TestMerge(t *testing.T) {
	base := DefaultTuningConfig()
	patch := EmptyTuningConfig()
	patch.AlertVolume = ptrFloat64(0.25)
	patch.SpeedAlertsEnabled = ptrBool(false)

	merged, err := base.Merge(patch)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.GetAlertVolume() != 0.25 {
		t.Errorf("GetAlertVolume() = %f, want 0.25", merged.GetAlertVolume())
	}
	if merged.GetSpeedAlertsEnabled() {
		t.Error("speed alerts should be disabled")
	}
	if merged.GetDebounceWindow() != 5*time.Second {
		t.Errorf("unpatched field changed: %v", merged.GetDebounceWindow())
	}
	if base.GetAlertVolume() != 0.8 {
		t.Error("Merge must not mutate the receiver")
	}

	bad := EmptyTuningConfig()
	bad.MaxRadiusM = ptrFloat64(10)
	if _, err := base.Merge(bad); err == nil {
		t.Error("expected validation error from Merge")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"06:00", 6 * time.Hour, false},
		{"23:59", 23*time.Hour + 59*time.Minute, false},
		{"24:00", 24 * time.Hour, false},
		{"24:01", 0, true},
		{"6", 0, true},
		{"aa:00", 0, true},
		{"12:60", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
