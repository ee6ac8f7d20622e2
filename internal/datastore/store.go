package datastore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver   string // sqlite or mysql
	Path     string // sqlite file, ":memory:" for tests
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Store is the persistence layer over gorm.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         createGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.driverName(), err)
	}

	if cfg.driverName() == "sqlite" && cfg.Path == ":memory:" {
		// Every new connection to :memory: is a different database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	log.Printf("[datastore] %s database ready", cfg.driverName())
	return s, nil
}

func (c Config) driverName() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Migrate creates or updates every table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to auto-migrate schema: %w", err)
	}
	return nil
}

// DefaultItemTypes is the catalog seeded into item_types.
var DefaultItemTypes = []ItemType{
	{Name: "helmet", Description: "Safety helmet / hard hat", ColorHex: "#FFD700", Required: true},
	{Name: "vest", Description: "High-visibility vest", ColorHex: "#FF6B35", Required: true},
	{Name: "gloves", Description: "Protective gloves", ColorHex: "#4ECDC4", Required: true},
	{Name: "boots", Description: "Safety boots", ColorHex: "#95E1D3", Required: true},
	{Name: "goggles", Description: "Safety goggles", ColorHex: "#38A3A5", Required: true},
}

// Seed inserts the item-type catalog. Safe to run repeatedly.
func (s *Store) Seed(ctx context.Context) error {
	for _, it := range DefaultItemTypes {
		it := it
		if err := s.db.WithContext(ctx).Where(ItemType{Name: it.Name}).FirstOrCreate(&it).Error; err != nil {
			return fmt.Errorf("seed item type %s: %w", it.Name, err)
		}
	}
	return nil
}

// DB exposes the gorm handle for ad-hoc queries.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
