// Package config loads the three daemon configurations (collectd, fetcher,
// reportd) from defaults, an optional YAML file and environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoggingConfig contains logging configuration shared by all three daemons.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// HTTPConfig controls the optional admin/metrics HTTP surface.
type HTTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	RateLimit int    `mapstructure:"rate_limit"`
	RateBurst int    `mapstructure:"rate_burst"`
}

// KafkaConfig controls the optional rendered-report mirror to Kafka.
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Hosts      []string `mapstructure:"hosts"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSL        bool     `mapstructure:"ssl"`
	SkipVerify bool     `mapstructure:"skip_verify"`
	Topic      string   `mapstructure:"topic"`
}

// ClickHouseConfig controls the optional analytics mirror of rendered reports.
type ClickHouseConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Database   string `mapstructure:"database"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TLS        bool   `mapstructure:"tls"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// EnrichmentConfig controls best-effort diagnostic lookups done while
// rendering a report. Neither lookup changes the RFC 8460 JSON body.
type EnrichmentConfig struct {
	Nameservers []string `mapstructure:"nameservers"`
	DNSTimeout  int      `mapstructure:"dns_timeout"`
	GeoIPDBPath string   `mapstructure:"geoip_db_path"`
}

// CollectdConfig is the configuration for the tlsrpt-collectd daemon.
type CollectdConfig struct {
	Storage                  string        `mapstructure:"storage"`
	SocketName               string        `mapstructure:"socketname"`
	SocketUser               string        `mapstructure:"socketuser"`
	SocketGroup              string        `mapstructure:"socketgroup"`
	SocketMode               string        `mapstructure:"socketmode"`
	SocketTimeout            int           `mapstructure:"sockettimeout"`
	MaxUncommittedDatagrams  int           `mapstructure:"max_uncommited_datagrams"`
	RetryCommitDatagramCount int           `mapstructure:"retry_commit_datagram_count"`
	PidFileName              string        `mapstructure:"pidfilename"`
	DailyRolloverScript      string        `mapstructure:"daily_rollover_script"`
	DumpPathForInvalidDgram  string        `mapstructure:"dump_path_for_invalid_datagram"`
	Logging                  LoggingConfig `mapstructure:"logging"`
	HTTP                     HTTPConfig    `mapstructure:"http"`
}

// FetcherConfig is the configuration for the tlsrpt-fetcher subprocess.
type FetcherConfig struct {
	Storage string        `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ReportdConfig is the configuration for the tlsrpt-reportd daemon.
type ReportdConfig struct {
	PidFileName             string `mapstructure:"pidfilename"`
	DebugDB                 bool   `mapstructure:"debug_db"`
	DebugSendMailDest       string `mapstructure:"debug_send_mail_dest"`
	DebugSendHTTPDest       string `mapstructure:"debug_send_http_dest"`
	DebugSendFileDest       string `mapstructure:"debug_send_file_dest"`
	DBName                  string `mapstructure:"dbname"`
	KeepDays                int    `mapstructure:"keep_days"`
	Fetchers                string `mapstructure:"fetchers"`
	OrganizationName        string `mapstructure:"organization_name"`
	ContactInfo             string `mapstructure:"contact_info"`
	SenderAddress           string `mapstructure:"sender_address"`
	CompressionLevel        int    `mapstructure:"compression_level"`
	HTTPScript              string `mapstructure:"http_script"`
	HTTPTimeout             int    `mapstructure:"http_timeout"`
	SendmailScript          string `mapstructure:"sendmail_script"`
	SendmailTimeout         int    `mapstructure:"sendmail_timeout"`
	SpreadOutDelivery       int    `mapstructure:"spread_out_delivery"`
	IntervalMainLoop        int    `mapstructure:"interval_main_loop"`
	MaxCollectdTimeout      int    `mapstructure:"max_collectd_timeout"`
	MaxCollectdTimediff     int    `mapstructure:"max_collectd_timediff"`
	MaxRetriesDelivery      int    `mapstructure:"max_retries_delivery"`
	MinWaitDelivery         int    `mapstructure:"min_wait_delivery"`
	MaxWaitDelivery         int    `mapstructure:"max_wait_delivery"`
	MaxRetriesDomainlist    int    `mapstructure:"max_retries_domainlist"`
	MinWaitDomainlist       int    `mapstructure:"min_wait_domainlist"`
	MaxWaitDomainlist       int    `mapstructure:"max_wait_domainlist"`
	MaxRetriesDomaindetails int    `mapstructure:"max_retries_domaindetails"`
	MinWaitDomaindetails    int    `mapstructure:"min_wait_domaindetails"`
	MaxWaitDomaindetails    int    `mapstructure:"max_wait_domaindetails"`

	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func readFile(v *viper.Viper, configFile string) error {
	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !isFileNotFoundError(err) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func isFileNotFoundError(err error) bool {
	errMsg := err.Error()
	return strings.Contains(errMsg, "no such file or directory") ||
		strings.Contains(errMsg, "cannot find the file") ||
		strings.Contains(errMsg, "system cannot find the file")
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stderr")
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.rate_limit", 60)
	v.SetDefault("http.rate_burst", 10)
}

// LoadCollectd loads the collectd configuration, env-prefixed
// TLSRPT_COLLECTD_, falling back to the options_collectd defaults of the
// reference implementation.
func LoadCollectd(configFile string) (*CollectdConfig, error) {
	v := newViper("TLSRPT_COLLECTD")
	setCommonDefaults(v)
	v.SetDefault("storage", "")
	v.SetDefault("socketname", "")
	v.SetDefault("socketuser", "")
	v.SetDefault("socketgroup", "")
	v.SetDefault("socketmode", "")
	v.SetDefault("sockettimeout", 5)
	v.SetDefault("max_uncommited_datagrams", 1000)
	v.SetDefault("retry_commit_datagram_count", 1000)
	v.SetDefault("pidfilename", "")
	v.SetDefault("daily_rollover_script", "")
	v.SetDefault("dump_path_for_invalid_datagram", "/tmp/tlsrpt-collectd-invalid-datagram.dump")

	if err := readFile(v, configFile); err != nil {
		return nil, err
	}

	var cfg CollectdConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collectd config: %w", err)
	}
	return &cfg, nil
}

// LoadFetcher loads the fetcher configuration, env-prefixed TLSRPT_FETCHER_.
func LoadFetcher(configFile string) (*FetcherConfig, error) {
	v := newViper("TLSRPT_FETCHER")
	setCommonDefaults(v)
	v.SetDefault("storage", "")

	if err := readFile(v, configFile); err != nil {
		return nil, err
	}

	var cfg FetcherConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fetcher config: %w", err)
	}
	return &cfg, nil
}

// LoadReportd loads the reportd configuration, env-prefixed TLSRPT_REPORTD_.
func LoadReportd(configFile string) (*ReportdConfig, error) {
	v := newViper("TLSRPT_REPORTD")
	setCommonDefaults(v)
	v.SetDefault("pidfilename", "")
	v.SetDefault("debug_db", false)
	v.SetDefault("debug_send_mail_dest", "")
	v.SetDefault("debug_send_http_dest", "")
	v.SetDefault("debug_send_file_dest", "")
	v.SetDefault("dbname", "")
	v.SetDefault("keep_days", 10)
	v.SetDefault("fetchers", "")
	v.SetDefault("organization_name", "")
	v.SetDefault("contact_info", "")
	v.SetDefault("sender_address", "")
	v.SetDefault("compression_level", -1)
	v.SetDefault("http_script", "curl --silent --header 'Content-Type: application/tlsrpt+gzip' --data-binary @-")
	v.SetDefault("http_timeout", 10)
	v.SetDefault("sendmail_script", "sendmail -i -t")
	v.SetDefault("sendmail_timeout", 10)
	v.SetDefault("spread_out_delivery", 36000)
	v.SetDefault("interval_main_loop", 300)
	v.SetDefault("max_collectd_timeout", 10)
	v.SetDefault("max_collectd_timediff", 10)
	v.SetDefault("max_retries_delivery", 5)
	v.SetDefault("min_wait_delivery", 300)
	v.SetDefault("max_wait_delivery", 1800)
	v.SetDefault("max_retries_domainlist", 5)
	v.SetDefault("min_wait_domainlist", 30)
	v.SetDefault("max_wait_domainlist", 300)
	v.SetDefault("max_retries_domaindetails", 5)
	v.SetDefault("min_wait_domaindetails", 30)
	v.SetDefault("max_wait_domaindetails", 300)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.hosts", []string{})
	v.SetDefault("kafka.ssl", true)
	v.SetDefault("kafka.skip_verify", false)
	v.SetDefault("kafka.topic", "")

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "tlsrpt")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.tls", false)
	v.SetDefault("clickhouse.skip_verify", false)

	v.SetDefault("enrichment.nameservers", []string{"1.1.1.1", "1.0.0.1"})
	v.SetDefault("enrichment.dns_timeout", 2)
	v.SetDefault("enrichment.geoip_db_path", "")

	if err := readFile(v, configFile); err != nil {
		return nil, err
	}

	var cfg ReportdConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reportd config: %w", err)
	}
	return &cfg, nil
}
