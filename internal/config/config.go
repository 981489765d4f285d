package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
		// LogFile: archivo adicional a stderr; vacío = solo stderr.
		LogFile string `yaml:"log_file"`
	} `yaml:"app"`

	// Identidad del asesor logueado. La gestión de sesión vive fuera de este
	// proceso; aquí solo se consumen los ids.
	Session struct {
		AdvisorID   string `yaml:"advisor_id"`
		AdvisorName string `yaml:"advisor_name"`
		UserID      string `yaml:"user_id"`
		UserEmail   string `yaml:"user_email"`
	} `yaml:"session"`

	Remote struct {
		// couch | postgres
		Adapter   string        `yaml:"adapter"`
		URL       string        `yaml:"url"`
		Username  string        `yaml:"username"`
		Password  string        `yaml:"password"`
		DSN       string        `yaml:"dsn"`
		Timeout   time.Duration `yaml:"timeout"`
		ClientsDB string        `yaml:"clients_db"`
		OrdersDB  string        `yaml:"orders_db"`
	} `yaml:"remote"`

	Local struct {
		Dir            string `yaml:"dir"`
		RevsLimit      int    `yaml:"revs_limit"`
		AutoCompaction *bool  `yaml:"auto_compaction"`
		Volatile       string `yaml:"volatile"`
	} `yaml:"local"`

	Replication struct {
		BatchSize       int           `yaml:"batch_size"`
		RetryInitial    time.Duration `yaml:"retry_initial"`
		RetryMax        time.Duration `yaml:"retry_max"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		ReloadAllowlist []string      `yaml:"reload_allowlist"`
	} `yaml:"replication"`

	Search struct {
		URL        string   `yaml:"url"`
		Limit      int      `yaml:"limit"`
		Fields     []string `yaml:"fields"`
		ScopeField string   `yaml:"scope_field"`
	} `yaml:"search"`

	ERP struct {
		URL          string        `yaml:"url"`
		AuthURL      string        `yaml:"auth_url"`
		Interval     time.Duration `yaml:"interval"`
		Timeout      time.Duration `yaml:"timeout"`
		TokenUser    string        `yaml:"token_user"`
		TokenPass    string        `yaml:"token_pass"`
		DateLocation string        `yaml:"date_location"`
	} `yaml:"erp"`

	KV struct {
		// memory | file | redis
		Kind    string `yaml:"kind"`
		Path    string `yaml:"path"`
		Prefix  string `yaml:"prefix"`
		Encrypt bool   `yaml:"encrypt"`
		Redis   struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"kv"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Load lee config.yaml (si path no es vacío), aplica defaults y overrides
// de entorno. Un path inexistente es error; path vacío usa solo env.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Version == "" {
		c.App.Version = "dev"
	}

	if c.Remote.Adapter == "" {
		c.Remote.Adapter = "couch"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 60 * time.Second
	}
	if c.Remote.ClientsDB == "" {
		c.Remote.ClientsDB = "clientes"
	}
	if c.Remote.OrdersDB == "" {
		c.Remote.OrdersDB = "ordenes"
	}

	if c.Local.Dir == "" {
		c.Local.Dir = "data"
	}
	if c.Local.RevsLimit == 0 {
		c.Local.RevsLimit = 5
	}
	if c.Local.AutoCompaction == nil {
		t := true
		c.Local.AutoCompaction = &t
	}
	if c.Local.Volatile == "" {
		c.Local.Volatile = "memory"
	}

	if c.Replication.BatchSize == 0 {
		c.Replication.BatchSize = 50
	}
	if c.Replication.RetryInitial == 0 {
		c.Replication.RetryInitial = time.Second
	}
	if c.Replication.RetryMax == 0 {
		c.Replication.RetryMax = 30 * time.Second
	}
	if c.Replication.PollInterval == 0 {
		c.Replication.PollInterval = 250 * time.Millisecond
	}
	if c.Replication.ReloadAllowlist == nil {
		c.Replication.ReloadAllowlist = []string{"getCheckpoint rejected with "}
	}

	if c.Search.Limit == 0 {
		c.Search.Limit = 50
	}
	if len(c.Search.Fields) == 0 {
		c.Search.Fields = []string{"nombre_cliente"}
	}
	if c.Search.ScopeField == "" {
		c.Search.ScopeField = "asesor"
	}

	if c.ERP.Interval == 0 {
		c.ERP.Interval = 60 * time.Second
	}
	if c.ERP.Timeout == 0 {
		c.ERP.Timeout = 30 * time.Second
	}
	if c.ERP.DateLocation == "" {
		c.ERP.DateLocation = "Local"
	}

	if c.KV.Kind == "" {
		c.KV.Kind = "memory"
	}
	if c.KV.Prefix == "" {
		c.KV.Prefix = "offline-shop:"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8089"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("LOG_FILE"); ok {
		c.App.LogFile = v
	}
	if v, ok := getEnvStr("APP_VERSION"); ok {
		c.App.Version = v
	}

	// SESSION
	if v, ok := getEnvStr("ADVISOR_ID"); ok {
		c.Session.AdvisorID = v
	}
	if v, ok := getEnvStr("USER_ID"); ok {
		c.Session.UserID = v
	}
	if v, ok := getEnvStr("USER_EMAIL"); ok {
		c.Session.UserEmail = v
	}

	// REMOTE
	if v, ok := getEnvStr("REMOTE_ADAPTER"); ok {
		c.Remote.Adapter = v
	}
	if v, ok := getEnvStr("REMOTE_URL"); ok {
		c.Remote.URL = v
	}
	if v, ok := getEnvStr("REMOTE_USER"); ok {
		c.Remote.Username = v
	}
	if v, ok := getEnvStr("REMOTE_PASS"); ok {
		c.Remote.Password = v
	}
	if v, ok := getEnvStr("REMOTE_DSN"); ok {
		c.Remote.DSN = v
	}
	if v, ok := getEnvDur("REMOTE_TIMEOUT"); ok {
		c.Remote.Timeout = v
	}

	// LOCAL
	if v, ok := getEnvStr("LOCAL_DIR"); ok {
		c.Local.Dir = v
	}
	if v, ok := getEnvInt("LOCAL_REVS_LIMIT"); ok {
		c.Local.RevsLimit = v
	}
	if v, ok := getEnvBool("LOCAL_AUTO_COMPACTION"); ok {
		c.Local.AutoCompaction = &v
	}

	// REPLICATION
	if v, ok := getEnvInt("REPLICATION_BATCH_SIZE"); ok {
		c.Replication.BatchSize = v
	}
	if v, ok := getEnvCSV("REPLICATION_RELOAD_ALLOWLIST"); ok {
		c.Replication.ReloadAllowlist = v
	}

	// SEARCH
	if v, ok := getEnvStr("SEARCH_URL"); ok {
		c.Search.URL = v
	}

	// ERP
	if v, ok := getEnvStr("ERP_URL"); ok {
		c.ERP.URL = v
	}
	if v, ok := getEnvStr("AUTH_URL"); ok {
		c.ERP.AuthURL = v
	}
	if v, ok := getEnvDur("ERP_INTERVAL"); ok {
		c.ERP.Interval = v
	}
	if v, ok := getEnvDur("ERP_TIMEOUT"); ok {
		c.ERP.Timeout = v
	}
	if v, ok := getEnvStr("ERP_TOKEN_USER"); ok {
		c.ERP.TokenUser = v
	}
	if v, ok := getEnvStr("ERP_TOKEN_PASS"); ok {
		c.ERP.TokenPass = v
	}

	// KV
	if v, ok := getEnvStr("KV_KIND"); ok {
		c.KV.Kind = v
	}
	if v, ok := getEnvStr("KV_PATH"); ok {
		c.KV.Path = v
	}
	if v, ok := getEnvBool("KV_ENCRYPT"); ok {
		c.KV.Encrypt = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.KV.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.KV.Redis.DB = v
	}

	// HTTP
	if v, ok := getEnvStr("HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
}

// Validate revisa los valores sin los cuales el motor no puede arrancar.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Session.AdvisorID) == "" {
		errs = append(errs, errors.New("session.advisor_id is required"))
	}
	switch c.Remote.Adapter {
	case "couch":
		if c.Remote.URL == "" {
			errs = append(errs, errors.New("remote.url is required for couch adapter"))
		}
	case "postgres":
		if c.Remote.DSN == "" {
			errs = append(errs, errors.New("remote.dsn is required for postgres adapter"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.adapter %q not supported", c.Remote.Adapter))
	}
	switch c.KV.Kind {
	case "memory":
	case "file":
		if c.KV.Path == "" {
			errs = append(errs, errors.New("kv.path is required for file kv"))
		}
	case "redis":
		if c.KV.Redis.Addr == "" {
			errs = append(errs, errors.New("kv.redis.addr is required for redis kv"))
		}
	default:
		errs = append(errs, fmt.Errorf("kv.kind %q not supported", c.KV.Kind))
	}
	if c.Replication.BatchSize < 1 {
		errs = append(errs, errors.New("replication.batch_size must be positive"))
	}
	if c.ERP.Interval <= 0 {
		errs = append(errs, errors.New("erp.interval must be positive"))
	}
	if _, err := time.LoadLocation(c.ERP.DateLocation); err != nil {
		errs = append(errs, fmt.Errorf("erp.date_location: %w", err))
	}
	return errors.Join(errs...)
}

// Location resuelve erp.date_location; cae a time.Local si no es válida.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.ERP.DateLocation); err == nil {
		return loc
	}
	return time.Local
}
