package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env:"BIND_IP" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"PORT" env-default:"8080"`
}

type TelegramConfig struct {
	ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	AdminId int64  `yaml:"admin_id" env:"TELEGRAM_ADMIN_ID" env-default:"0"`
}

type ApiConfig struct {
	Token string `yaml:"token" env:"API_TOKEN" env-default:""`
}

type StripeConfig struct {
	APIKey        string `yaml:"api_key" env:"STRIPE_API_KEY" env-default:""`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-default:""`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "mysql".
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite3"`
	// Path is the sqlite database file; ignored for mysql.
	Path string `yaml:"path" env:"DB_PATH" env-default:"users.db"`
	// Dsn is the mysql connection string; ignored for sqlite.
	Dsn string `yaml:"dsn" env:"DB_DSN" env-default:""`
}

type ProvisionConfig struct {
	CreateScript string   `yaml:"create_script" env:"CREATE_SCRIPT" env-default:"/root/add-client.sh"`
	DeleteScript string   `yaml:"delete_script" env:"DELETE_SCRIPT" env-default:"/root/delete-client.sh"`
	ConfigPath   string   `yaml:"config_path" env:"VPN_CONFIG_PATH" env-default:"/root/vpn"`
	TimeoutSec   int      `yaml:"timeout_sec" env:"PROVISION_TIMEOUT" env-default:"60"`
	Protocols    []string `yaml:"protocols" env:"PROTOCOLS" env-default:"ov,wg,am,vl"`
}

type AccessConfig struct {
	TrialDays        int   `yaml:"trial_days" env:"TRIAL_DAYS" env-default:"3"`
	ExpireIntervalM  int   `yaml:"expire_interval_min" env:"EXPIRE_INTERVAL_MIN" env-default:"10"`
	ReminderHour     int   `yaml:"reminder_hour" env:"REMINDER_HOUR" env-default:"16"`
	BackupHour       int   `yaml:"backup_hour" env:"BACKUP_HOUR" env-default:"22"`
	DayThresholds    []int `yaml:"day_thresholds" env:"DAY_THRESHOLDS" env-default:"3,1"`
	HourThresholds   []int `yaml:"hour_thresholds" env:"HOUR_THRESHOLDS" env-default:"12,1"`
	PaymentDays      int   `yaml:"payment_days" env:"PAYMENT_DAYS" env-default:"30"`
	PaymentPriceXTR  int   `yaml:"payment_price_xtr" env:"PAYMENT_PRICE_XTR" env-default:"100"`
}

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	Listen    Listen          `yaml:"listen"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Api       ApiConfig       `yaml:"api"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Database  DatabaseConfig  `yaml:"database"`
	Provision ProvisionConfig `yaml:"provision"`
	Access    AccessConfig    `yaml:"access"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if instance.Telegram.ApiKey == "" {
			log.Fatal("config: telegram api_key is required")
		}
		if instance.Telegram.AdminId == 0 {
			log.Fatal("config: telegram admin_id is required")
		}
	})
	return instance
}
