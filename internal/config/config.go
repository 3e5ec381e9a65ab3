package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Mode selects what the process does at startup.
const (
	ModeCore  = "core"  // real switch adapter + honeypot tail
	ModeDemo  = "demo"  // fake switch + simulated fleet
	ModeSniff = "sniff" // core plus local passive capture
)

// Config holds all application configuration.
// Precedence: built-in defaults < YAML file < environment < flags.
type Config struct {
	ConfigFile string `validate:"-"`
	Mode       string `yaml:"mode" validate:"oneof=core demo sniff"`

	ListenAddr string `yaml:"listen_addr" validate:"required"`
	GRPCAddr   string `yaml:"grpc_listen_addr"` // empty disables agent ingest

	DBPath      string `yaml:"db_path" validate:"required"`
	AuditDBPath string `yaml:"audit_db_path"`
	CADir       string `yaml:"ca_dir" validate:"required"`

	// HoneypotLogPath points at the honeypot's NDJSON event log.
	// Empty disables honeypot ingestion.
	HoneypotLogPath string `yaml:"honeypot_log_path"`

	// HoneypotPort is the switch output port the honeypot hangs off.
	// Zero means the capability is absent and REDIRECT decisions
	// degrade to DENY.
	HoneypotPort int `yaml:"honeypot_port" validate:"min=0,max=65535"`

	InitialTrustScore   int           `yaml:"initial_trust_score" validate:"min=0,max=100"`
	AttestationInterval time.Duration `yaml:"-" validate:"min=1s"`
	FlowPollInterval    time.Duration `yaml:"-" validate:"min=1s"`
	AnomalyWindow       time.Duration `yaml:"-" validate:"min=1s"`
	ProfilingDuration   time.Duration `yaml:"-" validate:"min=1s"`
	ProfilingMinPackets int           `yaml:"profiling_min_packets" validate:"min=0"`
	BaselineEMAAlpha    float64       `yaml:"baseline_ema_alpha" validate:"gt=0,lte=1"`
	ThreatTTL           time.Duration `yaml:"-" validate:"min=1s"`

	TrustThresholds []int `yaml:"trust_thresholds" validate:"len=3"`
	TrustHysteresis int   `yaml:"trust_hysteresis" validate:"min=0,max=50"`
	PositiveTick    bool  `yaml:"trust_positive_tick"`

	AlertWindow    time.Duration `yaml:"-" validate:"min=1s"`
	RecoveryWindow time.Duration `yaml:"-" validate:"min=1s"`

	EventQueueSize     int `yaml:"event_queue_size" validate:"min=1"`
	RuleInstallRetries int `yaml:"rule_install_retries" validate:"min=0,max=10"`

	SwitchMaxQueue      int           `yaml:"switch_max_queue" validate:"min=1"`
	SwitchMaxDisconnect time.Duration `yaml:"-" validate:"min=1s"`

	JWTSecret            string        `yaml:"jwt_secret"`
	SessionTimeout       time.Duration `yaml:"-" validate:"min=10s"`
	APIRateLimitPerMin   int           `yaml:"api_rate_limit_per_min" validate:"min=1"`
	LoginRateLimitPerMin int           `yaml:"login_rate_limit_per_min" validate:"min=1"`

	SniffIface string `yaml:"sniff_iface"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	Debug      bool   `yaml:"-"`
}

// fileOverlay mirrors the YAML schema with pointer fields so absent keys
// are distinguishable from zero values. Interval keys are integral
// seconds on disk, matching the deployed controller's configuration.
type fileOverlay struct {
	Mode                 *string `yaml:"mode"`
	ListenAddr           *string `yaml:"listen_addr"`
	GRPCAddr             *string `yaml:"grpc_listen_addr"`
	DBPath               *string `yaml:"db_path"`
	AuditDBPath          *string `yaml:"audit_db_path"`
	CADir                *string `yaml:"ca_dir"`
	HoneypotLogPath      *string `yaml:"honeypot_log_path"`
	HoneypotPort         *int    `yaml:"honeypot_port"`
	InitialTrustScore    *int    `yaml:"initial_trust_score"`
	AttestationIntervalS *int    `yaml:"attestation_interval_s"`
	FlowPollIntervalS    *int    `yaml:"flow_poll_interval_s"`
	AnomalyWindowS       *int    `yaml:"anomaly_window_s"`
	ProfilingDurationS   *int    `yaml:"profiling_duration_s"`
	ProfilingMinPackets  *int    `yaml:"profiling_min_packets"`
	BaselineEMAAlpha     *float64 `yaml:"baseline_ema_alpha"`
	ThreatTTLS           *int    `yaml:"threat_ttl_s"`
	TrustThresholds      []int   `yaml:"trust_thresholds"`
	TrustHysteresis      *int    `yaml:"trust_hysteresis"`
	PositiveTick         *bool   `yaml:"trust_positive_tick"`
	AlertWindowS         *int    `yaml:"alert_window_s"`
	RecoveryWindowS      *int    `yaml:"recovery_window_s"`
	EventQueueSize       *int    `yaml:"event_queue_size"`
	RuleInstallRetries   *int    `yaml:"rule_install_retries"`
	SwitchMaxQueue       *int    `yaml:"switch_max_queue"`
	SwitchMaxDisconnectS *int    `yaml:"switch_max_disconnect_s"`
	JWTSecret            *string `yaml:"jwt_secret"`
	SessionTimeoutS      *int    `yaml:"session_timeout_s"`
	APIRateLimitPerMin   *int    `yaml:"api_rate_limit_per_min"`
	LoginRateLimitPerMin *int    `yaml:"login_rate_limit_per_min"`
	SniffIface           *string `yaml:"sniff_iface"`
	LogLevel             *string `yaml:"log_level"`
}

// Defaults returns a config populated with every built-in default.
func Defaults() *Config {
	return &Config{
		Mode:                 ModeCore,
		ListenAddr:           ":8443",
		GRPCAddr:             ":9000",
		DBPath:               defaultPath("ztcore.db"),
		CADir:                defaultPath("ca"),
		HoneypotLogPath:      "",
		HoneypotPort:         0,
		InitialTrustScore:    domain.TrustInitial,
		AttestationInterval:  300 * time.Second,
		FlowPollInterval:     10 * time.Second,
		AnomalyWindow:        60 * time.Second,
		ProfilingDuration:    300 * time.Second,
		ProfilingMinPackets:  5,
		BaselineEMAAlpha:     0.1,
		ThreatTTL:            86400 * time.Second,
		TrustThresholds:      []int{70, 50, 30},
		TrustHysteresis:      5,
		PositiveTick:         false,
		AlertWindow:          300 * time.Second,
		RecoveryWindow:       600 * time.Second,
		EventQueueSize:       1024,
		RuleInstallRetries:   3,
		SwitchMaxQueue:       1000,
		SwitchMaxDisconnect:  60 * time.Second,
		SessionTimeout:       300 * time.Second,
		APIRateLimitPerMin:   60,
		LoginRateLimitPerMin: 5,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file,
// ZT_* environment variables, and command-line flags, in that order.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("ztcore", flag.ExitOnError)
	configFile := fs.String("config", getEnv("ZT_CONFIG", ""), "Path to YAML config file")
	mode := fs.String("mode", "", "Run mode: core, demo or sniff")
	addr := fs.String("addr", "", "Management API listen address")
	grpcAddr := fs.String("grpc", "", "gRPC agent ingest address (empty disables)")
	dbPath := fs.String("db", "", "Path to SQLite database")
	auditDBPath := fs.String("audit-db", "", "Path to audit SQLite database")
	caDir := fs.String("ca-dir", "", "Certificate authority directory")
	honeypotLog := fs.String("honeypot-log", "", "Path to honeypot NDJSON log")
	honeypotPort := fs.Int("honeypot-port", -1, "Switch output port of the honeypot (0 disables redirect)")
	sniffIface := fs.String("i", "", "Capture interface for sniff mode")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error")
	debug := fs.Bool("debug", false, "Enable verbose debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Layer 2: file.
	cfg.ConfigFile = *configFile
	if cfg.ConfigFile != "" {
		if err := applyFile(cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Layer 3: environment.
	applyEnv(cfg)

	// Layer 4: explicitly passed flags.
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *auditDBPath != "" {
		cfg.AuditDBPath = *auditDBPath
	}
	if *caDir != "" {
		cfg.CADir = *caDir
	}
	if *honeypotLog != "" {
		cfg.HoneypotLogPath = *honeypotLog
	}
	if *honeypotPort >= 0 {
		cfg.HoneypotPort = *honeypotPort
	}
	if *sniffIface != "" {
		cfg.SniffIface = *sniffIface
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.Debug = *debug

	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = deriveAuditPath(cfg.DBPath)
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigError{Key: "config", Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return &domain.ConfigError{Key: "config", Reason: fmt.Sprintf("invalid YAML in %s: %v", path, err)}
	}

	setString(&cfg.Mode, overlay.Mode)
	setString(&cfg.ListenAddr, overlay.ListenAddr)
	setString(&cfg.GRPCAddr, overlay.GRPCAddr)
	setString(&cfg.DBPath, overlay.DBPath)
	setString(&cfg.AuditDBPath, overlay.AuditDBPath)
	setString(&cfg.CADir, overlay.CADir)
	setString(&cfg.HoneypotLogPath, overlay.HoneypotLogPath)
	setInt(&cfg.HoneypotPort, overlay.HoneypotPort)
	setInt(&cfg.InitialTrustScore, overlay.InitialTrustScore)
	setSeconds(&cfg.AttestationInterval, overlay.AttestationIntervalS)
	setSeconds(&cfg.FlowPollInterval, overlay.FlowPollIntervalS)
	setSeconds(&cfg.AnomalyWindow, overlay.AnomalyWindowS)
	setSeconds(&cfg.ProfilingDuration, overlay.ProfilingDurationS)
	setInt(&cfg.ProfilingMinPackets, overlay.ProfilingMinPackets)
	if overlay.BaselineEMAAlpha != nil {
		cfg.BaselineEMAAlpha = *overlay.BaselineEMAAlpha
	}
	setSeconds(&cfg.ThreatTTL, overlay.ThreatTTLS)
	if len(overlay.TrustThresholds) > 0 {
		cfg.TrustThresholds = overlay.TrustThresholds
	}
	setInt(&cfg.TrustHysteresis, overlay.TrustHysteresis)
	if overlay.PositiveTick != nil {
		cfg.PositiveTick = *overlay.PositiveTick
	}
	setSeconds(&cfg.AlertWindow, overlay.AlertWindowS)
	setSeconds(&cfg.RecoveryWindow, overlay.RecoveryWindowS)
	setInt(&cfg.EventQueueSize, overlay.EventQueueSize)
	setInt(&cfg.RuleInstallRetries, overlay.RuleInstallRetries)
	setInt(&cfg.SwitchMaxQueue, overlay.SwitchMaxQueue)
	setSeconds(&cfg.SwitchMaxDisconnect, overlay.SwitchMaxDisconnectS)
	setString(&cfg.JWTSecret, overlay.JWTSecret)
	setSeconds(&cfg.SessionTimeout, overlay.SessionTimeoutS)
	setInt(&cfg.APIRateLimitPerMin, overlay.APIRateLimitPerMin)
	setInt(&cfg.LoginRateLimitPerMin, overlay.LoginRateLimitPerMin)
	setString(&cfg.SniffIface, overlay.SniffIface)
	setString(&cfg.LogLevel, overlay.LogLevel)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Mode = getEnv("ZT_MODE", cfg.Mode)
	cfg.ListenAddr = getEnv("ZT_ADDR", cfg.ListenAddr)
	cfg.GRPCAddr = getEnv("ZT_GRPC_ADDR", cfg.GRPCAddr)
	cfg.DBPath = getEnv("ZT_DB", cfg.DBPath)
	cfg.AuditDBPath = getEnv("ZT_AUDIT_DB", cfg.AuditDBPath)
	cfg.CADir = getEnv("ZT_CA_DIR", cfg.CADir)
	cfg.HoneypotLogPath = getEnv("ZT_HONEYPOT_LOG", cfg.HoneypotLogPath)
	cfg.HoneypotPort = getEnvInt("ZT_HONEYPOT_PORT", cfg.HoneypotPort)
	cfg.InitialTrustScore = getEnvInt("ZT_INITIAL_TRUST", cfg.InitialTrustScore)
	cfg.AttestationInterval = getEnvSeconds("ZT_ATTESTATION_INTERVAL_S", cfg.AttestationInterval)
	cfg.FlowPollInterval = getEnvSeconds("ZT_FLOW_POLL_INTERVAL_S", cfg.FlowPollInterval)
	cfg.AnomalyWindow = getEnvSeconds("ZT_ANOMALY_WINDOW_S", cfg.AnomalyWindow)
	cfg.ProfilingDuration = getEnvSeconds("ZT_PROFILING_DURATION_S", cfg.ProfilingDuration)
	cfg.ProfilingMinPackets = getEnvInt("ZT_PROFILING_MIN_PACKETS", cfg.ProfilingMinPackets)
	cfg.BaselineEMAAlpha = getEnvFloat("ZT_BASELINE_EMA_ALPHA", cfg.BaselineEMAAlpha)
	cfg.ThreatTTL = getEnvSeconds("ZT_THREAT_TTL_S", cfg.ThreatTTL)
	cfg.TrustHysteresis = getEnvInt("ZT_TRUST_HYSTERESIS", cfg.TrustHysteresis)
	cfg.PositiveTick = getEnvBool("ZT_TRUST_POSITIVE_TICK", cfg.PositiveTick)
	cfg.AlertWindow = getEnvSeconds("ZT_ALERT_WINDOW_S", cfg.AlertWindow)
	cfg.RecoveryWindow = getEnvSeconds("ZT_RECOVERY_WINDOW_S", cfg.RecoveryWindow)
	cfg.EventQueueSize = getEnvInt("ZT_EVENT_QUEUE_SIZE", cfg.EventQueueSize)
	cfg.RuleInstallRetries = getEnvInt("ZT_RULE_INSTALL_RETRIES", cfg.RuleInstallRetries)
	cfg.SwitchMaxQueue = getEnvInt("ZT_SWITCH_MAX_QUEUE", cfg.SwitchMaxQueue)
	cfg.SwitchMaxDisconnect = getEnvSeconds("ZT_SWITCH_MAX_DISCONNECT_S", cfg.SwitchMaxDisconnect)
	cfg.JWTSecret = getEnv("ZT_JWT_SECRET", cfg.JWTSecret)
	cfg.SessionTimeout = getEnvSeconds("ZT_SESSION_TIMEOUT_S", cfg.SessionTimeout)
	cfg.APIRateLimitPerMin = getEnvInt("ZT_API_RATE_LIMIT", cfg.APIRateLimitPerMin)
	cfg.LoginRateLimitPerMin = getEnvInt("ZT_LOGIN_RATE_LIMIT", cfg.LoginRateLimitPerMin)
	cfg.SniffIface = getEnv("ZT_SNIFF_IFACE", cfg.SniffIface)
	cfg.LogLevel = getEnv("ZT_LOG_LEVEL", cfg.LogLevel)
	if len(cfg.TrustThresholds) == 3 {
		cfg.TrustThresholds[0] = getEnvInt("ZT_TRUST_THRESHOLD_HIGH", cfg.TrustThresholds[0])
		cfg.TrustThresholds[1] = getEnvInt("ZT_TRUST_THRESHOLD_MID", cfg.TrustThresholds[1])
		cfg.TrustThresholds[2] = getEnvInt("ZT_TRUST_THRESHOLD_LOW", cfg.TrustThresholds[2])
	}
}

// Validate enforces field constraints and cross-field rules. It returns
// domain.ConfigError so startup can refuse bad configuration loudly.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return &domain.ConfigError{
				Key:    strings.ToLower(e.Field()),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", e.Tag(), e.Value()),
			}
		}
		return &domain.ConfigError{Key: "config", Reason: err.Error()}
	}

	t := c.TrustThresholds
	if !(t[0] > t[1] && t[1] > t[2]) {
		return &domain.ConfigError{Key: "trust_thresholds", Reason: "must be strictly descending"}
	}
	for i, th := range t {
		if th < 0 || th > 100 {
			return &domain.ConfigError{Key: "trust_thresholds", Reason: fmt.Sprintf("threshold %d out of [0,100]", i)}
		}
	}
	if c.Mode == ModeSniff && c.SniffIface == "" {
		return &domain.ConfigError{Key: "sniff_iface", Reason: "required in sniff mode"}
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// defaultPath places state under ~/.ztcore, falling back to the working
// directory when no home is available.
func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	dir := filepath.Join(home, ".ztcore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return name
	}
	return filepath.Join(dir, name)
}

func deriveAuditPath(dbPath string) string {
	ext := filepath.Ext(dbPath)
	base := strings.TrimSuffix(dbPath, ext)
	if ext == "" {
		ext = ".db"
	}
	return base + "_audit" + ext
}
