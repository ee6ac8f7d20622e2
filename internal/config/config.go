// Package config loads process settings from the environment, an optional
// .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Settings struct {
	HTTPAddr    string
	MaxUploadMB int

	Database Database
	Model    Model
	Capture  Capture

	JPEGQuality int
	VideoPace   time.Duration

	SampleEvery       int
	AlertThrottle     time.Duration
	PersistSuppressed bool

	UploadDir       string
	VideoExtensions []string

	Snapshots Snapshots
	MQTT      MQTT

	StatusInterval  time.Duration
	CamerasSeedFile string
}

type Database struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type Model struct {
	Path       string
	Labels     []string
	Confidence float64
	IOU        float64
	InputSize  int
}

type Capture struct {
	Backend string
	Width   int
	Height  int
	FPS     int
}

type Snapshots struct {
	Store     string // local or minio
	Dir       string
	URLPrefix string
	Minio     Minio
}

type Minio struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

type MQTT struct {
	Enabled   bool
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	BaseTopic string
	// PublishTimeout bounds one publish while the broker is unreachable.
	PublishTimeout time.Duration
}

// DefaultLabels are the class names of the bundled PPE model, in output order.
var DefaultLabels = []string{
	"glove", "goggles", "helmet", "mask", "no_glove", "no_goggles", "no_helmet",
	"no_mask", "no_shoes", "person", "shoes", "vest", "no_vest",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("max_upload_mb", 512)

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "data/ppe-watch.db")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 3306)
	v.SetDefault("db_user", "root")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "ppe_watch")

	v.SetDefault("model_path", "models/ppe.onnx")
	v.SetDefault("model_labels", strings.Join(DefaultLabels, ","))
	v.SetDefault("model_confidence", 0.25)
	v.SetDefault("model_iou", 0.45)
	v.SetDefault("model_input_size", 640)

	v.SetDefault("capture_backend", "opencv")
	v.SetDefault("capture_width", 1280)
	v.SetDefault("capture_height", 720)
	v.SetDefault("capture_fps", 30)

	v.SetDefault("jpeg_quality", 85)
	v.SetDefault("video_pace", "33ms")

	v.SetDefault("sample_every", 30)
	v.SetDefault("alert_throttle", "5s")
	v.SetDefault("persist_suppressed", true)

	v.SetDefault("upload_dir", "data/uploads")
	v.SetDefault("video_extensions", ".mp4,.avi,.mov,.mkv")

	v.SetDefault("snapshot_store", "local")
	v.SetDefault("snapshot_dir", "static/snapshots")
	v.SetDefault("snapshot_url_prefix", "static/snapshots")
	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "ppe-snapshots")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_public_base_url", "")

	v.SetDefault("mqtt_enabled", false)
	v.SetDefault("mqtt_host", "localhost")
	v.SetDefault("mqtt_port", 1883)
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_client_id", "ppe-watch")
	v.SetDefault("mqtt_base_topic", "ppe")
	v.SetDefault("mqtt_publish_timeout", "5s")

	v.SetDefault("status_interval", "30s")
	v.SetDefault("cameras_seed_file", "")
}

// LoadDotEnv loads .env files into the environment; a missing file is not an
// error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
}

// Load reads settings. Environment variables (upper-case key names) win over
// the config file, which wins over defaults. configFile may be empty.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	s := &Settings{
		HTTPAddr:    v.GetString("http_addr"),
		MaxUploadMB: v.GetInt("max_upload_mb"),
		Database: Database{
			Driver:   strings.ToLower(v.GetString("db_driver")),
			Path:     v.GetString("db_path"),
			Host:     v.GetString("db_host"),
			Port:     v.GetInt("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
		},
		Model: Model{
			Path:       v.GetString("model_path"),
			Labels:     stringList(v, "model_labels"),
			Confidence: v.GetFloat64("model_confidence"),
			IOU:        v.GetFloat64("model_iou"),
			InputSize:  v.GetInt("model_input_size"),
		},
		Capture: Capture{
			Backend: v.GetString("capture_backend"),
			Width:   v.GetInt("capture_width"),
			Height:  v.GetInt("capture_height"),
			FPS:     v.GetInt("capture_fps"),
		},
		JPEGQuality:       v.GetInt("jpeg_quality"),
		VideoPace:         v.GetDuration("video_pace"),
		SampleEvery:       v.GetInt("sample_every"),
		AlertThrottle:     v.GetDuration("alert_throttle"),
		PersistSuppressed: v.GetBool("persist_suppressed"),
		UploadDir:         v.GetString("upload_dir"),
		VideoExtensions:   stringList(v, "video_extensions"),
		Snapshots: Snapshots{
			Store:     strings.ToLower(v.GetString("snapshot_store")),
			Dir:       v.GetString("snapshot_dir"),
			URLPrefix: v.GetString("snapshot_url_prefix"),
			Minio: Minio{
				Endpoint:      v.GetString("minio_endpoint"),
				AccessKey:     v.GetString("minio_access_key"),
				SecretKey:     v.GetString("minio_secret_key"),
				Bucket:        v.GetString("minio_bucket"),
				UseSSL:        v.GetBool("minio_use_ssl"),
				PublicBaseURL: v.GetString("minio_public_base_url"),
			},
		},
		MQTT: MQTT{
			Enabled:   v.GetBool("mqtt_enabled"),
			Host:      v.GetString("mqtt_host"),
			Port:      v.GetInt("mqtt_port"),
			Username:  v.GetString("mqtt_username"),
			Password:  v.GetString("mqtt_password"),
			ClientID:  v.GetString("mqtt_client_id"),
			BaseTopic: v.GetString("mqtt_base_topic"),

			PublishTimeout: v.GetDuration("mqtt_publish_timeout"),
		},
		StatusInterval:  v.GetDuration("status_interval"),
		CamerasSeedFile: v.GetString("cameras_seed_file"),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// stringList accepts either a YAML list or a comma-separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch t := v.Get(key).(type) {
	case []any:
		for _, e := range t {
			raw = append(raw, fmt.Sprint(e))
		}
	case []string:
		raw = t
	default:
		raw = strings.Split(v.GetString(key), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *Settings) Validate() error {
	var errs []error
	switch s.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("db_driver must be sqlite or mysql, got %q", s.Database.Driver))
	}
	switch s.Snapshots.Store {
	case "local":
	case "minio":
		if s.Snapshots.Minio.AccessKey == "" || s.Snapshots.Minio.SecretKey == "" {
			errs = append(errs, errors.New("snapshot_store=minio needs minio_access_key and minio_secret_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot_store must be local or minio, got %q", s.Snapshots.Store))
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be in 1..100, got %d", s.JPEGQuality))
	}
	if s.SampleEvery < 1 {
		errs = append(errs, fmt.Errorf("sample_every must be at least 1, got %d", s.SampleEvery))
	}
	if s.AlertThrottle < 0 {
		errs = append(errs, fmt.Errorf("alert_throttle must not be negative"))
	}
	if s.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("status_interval must be positive"))
	}
	if s.MQTT.Enabled && s.MQTT.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("mqtt_publish_timeout must be positive"))
	}
	if s.Model.Confidence < 0 || s.Model.Confidence > 1 {
		errs = append(errs, fmt.Errorf("model_confidence must be in 0..1, got %v", s.Model.Confidence))
	}
	if len(s.Model.Labels) == 0 {
		errs = append(errs, errors.New("model_labels must not be empty"))
	}
	if len(s.VideoExtensions) == 0 {
		errs = append(errs, errors.New("video_extensions must not be empty"))
	}
	return errors.Join(errs...)
}
