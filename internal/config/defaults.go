package config

// Default values. Credentials and the broker URL have no defaults; they
// must come from the config file.
const (
	defaultQbitURL        = "http://localhost:8080"
	defaultHTTPTimeout    = "30s"
	defaultExchange       = "torrents"
	defaultNotifyExchange = "notifications"
	defaultCommandQueue   = "torrent.add"
	defaultPollInterval   = "5s"
	defaultAlertThreshold = "10m"
	defaultServiceName    = "torrentbridge"
	defaultStorePath      = "torrentbridge.db"
	defaultLogLevel       = "info"
)

// defaultCategories mirrors the categories the downstream consumers route
// on when the config file does not set its own list.
var defaultCategories = []string{"tv", "movies"}

// DefaultConfig returns a Config populated with all default values, used
// as the starting point for TOML decoding so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Qbittorrent: QbittorrentConfig{
			URL:     defaultQbitURL,
			Timeout: defaultHTTPTimeout,
		},
		AMQP: AMQPConfig{
			Exchange:       defaultExchange,
			NotifyExchange: defaultNotifyExchange,
			CommandQueue:   defaultCommandQueue,
		},
		Monitor: MonitorConfig{
			PollInterval:   defaultPollInterval,
			AlertThreshold: defaultAlertThreshold,
			ServiceName:    defaultServiceName,
		},
		Store: StoreConfig{
			Path: defaultStorePath,
		},
		Categories: defaultCategories,
		LogLevel:   defaultLogLevel,
	}
}
