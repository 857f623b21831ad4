package config

import (
	"os"
	"strconv"
	"time"
)

// RiskConfig holds the risk manager limits loaded from the environment.
type RiskConfig struct {
	MaxRiskPerTrade       float64 // fraction of capital per trade
	MaxDailyLoss          float64 // daily loss fraction that halts trading
	MaxTotalExposure      float64 // total notional exposure fraction cap
	MaxPositionsPerMarket int
	MaxOpenPositions      int
	MinVolumeUSD          float64
	MaxVolumeUSD          float64
	StopLossRequired      bool
	MaxLeverage           float64
}

// BBEMAConfig holds the tunables of the Bollinger/EMA strategy.
type BBEMAConfig struct {
	RiskPerc       float64 // percent of capital risked per entry
	BBLen          int
	BBMult         float64
	EMAFastLen     int
	EMASlowLen     int
	ATRLen         int
	StopMult       float64
	PartialRR      float64
	RewardRR       float64
	TrailATRMult   float64
	PartialPct     float64
	MinBarsBetween int
	UseRangeTrades bool
	UseVolFilter   bool
	VolLookback    int
	VolThresh      float64
}

// Config holds application configuration
type Config struct {
	APIKey    string
	APISecret string
	RESTHost  string
	WSURL     string

	Interval    string // candle interval for the decision engine
	CandleLimit int    // candles fetched per symbol per cycle

	DecisionInterval time.Duration
	TrailingInterval time.Duration

	StrategyName   string
	SimulationMode bool

	LimitOrder int // max concurrent orders / open positions

	Risk  RiskConfig
	BBEMA BBEMAConfig

	// Staleness thresholds for resting orders. These are independent:
	// the scheduled-order sweep and the cancel-and-replace path each
	// use their own age.
	ScheduledOrderMaxAge time.Duration
	RestingOrderMaxAge   time.Duration

	// Logging configuration
	LogFile       string
	LogMaxSize    int // megabytes
	LogMaxBackups int // number of files
	LogMaxAge     int // days
	LogCompress   bool
	LogLevel      int // 0=DEBUG, 1=INFO, 2=WARNING, 3=ERROR

	// Metrics endpoint
	StatusAddr string

	// Daemon configuration
	DaemonMode bool

	Debug bool
}

// DefaultRiskConfig returns the risk limits used when no environment
// overrides are set.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxRiskPerTrade:       0.02,
		MaxDailyLoss:          0.05,
		MaxTotalExposure:      0.80,
		MaxPositionsPerMarket: 1,
		MaxOpenPositions:      5,
		MinVolumeUSD:          100,
		MaxVolumeUSD:          5000,
		StopLossRequired:      true,
		MaxLeverage:           10,
	}
}

// LoadConfig loads configuration from environment variables or uses defaults
func LoadConfig() *Config {
	return &Config{
		APIKey:    getEnv("BACKPACK_API_KEY", ""),
		APISecret: getEnv("BACKPACK_API_SECRET", ""),
		RESTHost:  getEnv("BACKPACK_REST_HOST", "https://api.backpack.exchange"),
		WSURL:     getEnv("BACKPACK_WS_URL", "wss://ws.backpack.exchange"),

		Interval:    getEnv("CANDLE_INTERVAL", "5m"),
		CandleLimit: getEnvAsInt("CANDLE_LIMIT", 120),

		DecisionInterval: getEnvAsDuration("DECISION_INTERVAL", time.Minute),
		TrailingInterval: getEnvAsDuration("TRAILING_INTERVAL", 2500*time.Millisecond),

		StrategyName:   getEnv("STRATEGY", "BBEMA_VOLUME_FARMER"),
		SimulationMode: getEnvAsBool("SIMULATION_MODE", false),

		LimitOrder: getEnvAsInt("LIMIT_ORDER", 5),

		Risk: RiskConfig{
			MaxRiskPerTrade:       getEnvAsFloat("MAX_RISK_PER_TRADE", 0.02),
			MaxDailyLoss:          getEnvAsFloat("MAX_DAILY_LOSS", 0.05),
			MaxTotalExposure:      getEnvAsFloat("MAX_TOTAL_EXPOSURE", 0.80),
			MaxPositionsPerMarket: getEnvAsInt("MAX_POSITIONS_PER_MARKET", 1),
			MaxOpenPositions:      getEnvAsInt("LIMIT_ORDER", 5),
			MinVolumeUSD:          getEnvAsFloat("MIN_VOLUME_USD", 100),
			MaxVolumeUSD:          getEnvAsFloat("MAX_VOLUME_USD", 5000),
			StopLossRequired:      getEnvAsBool("REQUIRE_STOP_LOSS", true),
			MaxLeverage:           getEnvAsFloat("MAX_LEVERAGE", 10),
		},

		BBEMA: BBEMAConfig{
			RiskPerc:       getEnvAsFloat("BBEMA_RISK_PERC", 0.5),
			BBLen:          getEnvAsInt("BBEMA_BB_LEN", 20),
			BBMult:         getEnvAsFloat("BBEMA_BB_MULT", 2.0),
			EMAFastLen:     getEnvAsInt("BBEMA_EMA_FAST_LEN", 21),
			EMASlowLen:     getEnvAsInt("BBEMA_EMA_SLOW_LEN", 55),
			ATRLen:         getEnvAsInt("BBEMA_ATR_LEN", 14),
			StopMult:       getEnvAsFloat("BBEMA_STOP_MULT", 1.1),
			PartialRR:      getEnvAsFloat("BBEMA_PARTIAL_RR", 0.7),
			RewardRR:       getEnvAsFloat("BBEMA_REWARD_RR", 2.5),
			TrailATRMult:   getEnvAsFloat("BBEMA_TRAIL_ATR_MULT", 1.5),
			PartialPct:     getEnvAsFloat("BBEMA_PARTIAL_PCT", 40),
			MinBarsBetween: getEnvAsInt("BBEMA_MIN_BARS_BETWEEN", 5),
			UseRangeTrades: getEnvAsBool("BBEMA_USE_RANGE_TRADES", false),
			UseVolFilter:   getEnvAsBool("BBEMA_USE_VOL_FILTER", false),
			VolLookback:    getEnvAsInt("BBEMA_VOL_LOOKBACK", 50),
			VolThresh:      getEnvAsFloat("BBEMA_VOL_THRESH", 0.6),
		},

		ScheduledOrderMaxAge: getEnvAsDuration("SCHEDULED_ORDER_MAX_AGE", 5*time.Minute),
		RestingOrderMaxAge:   getEnvAsDuration("RESTING_ORDER_MAX_AGE", 10*time.Minute),

		// Logging defaults
		LogFile:       getEnv("LOG_FILE", "logs/backbot.log"),
		LogMaxSize:    10, // 10 MB
		LogMaxBackups: 5,  // 5 backup files
		LogMaxAge:     30, // 30 days
		LogCompress:   true,
		LogLevel:      getEnvAsInt("LOG_LEVEL", 1),

		// Status server defaults
		StatusAddr: getEnv("STATUS_ADDR", "127.0.0.1:6061"),

		// Daemon defaults
		DaemonMode: getEnvAsBool("DAEMON_MODE", false),

		Debug: getEnvAsBool("DEBUG", false),
	}
}

// getEnvAsBool gets an environment variable as a boolean value
func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch value {
	case "true", "1", "yes", "on", "True", "TRUE":
		return true
	default:
		return false
	}
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
