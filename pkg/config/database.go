package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
	maxOpenConns      = 25
	maxIdleConns      = 5
	connMaxLifetime   = 30 * time.Minute
)

// DB holds the timeline/follows database and the activity store.
type DB struct {
	Postgres *gorm.DB
	Mongo    *mongo.Client
	// Activities is the database holding the global activity collection.
	Activities *mongo.Database
	logger     zerolog.Logger
}

// InitDB connects to PostgreSQL and MongoDB. On failure nothing is left open.
func InitDB(ctx context.Context, cfg *Config, logger zerolog.Logger) (*DB, error) {
	db := &DB{logger: logger.With().Str("component", "database").Logger()}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pg, err := openPostgres(ctx, cfg.PostgresConnStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.Postgres = pg
	db.logger.Info().Msg("connected to PostgreSQL")

	client, err := openMongo(ctx, cfg.MongoURI)
	if err != nil {
		db.CloseDB()
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db.Mongo = client
	db.Activities = client.Database(cfg.MongoDatabase)
	db.logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to MongoDB")

	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Fan-out workers write concurrently; keep the pool bounded.
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func openMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// CloseDB closes whatever connections are open. Errors are logged.
func (db *DB) CloseDB() {
	if err := db.close(); err != nil {
		db.logger.Error().Err(err).Msg("close databases")
		return
	}
	db.logger.Info().Msg("database connections closed")
}

func (db *DB) close() error {
	var errs []error
	if db.Postgres != nil {
		if sqlDB, err := db.Postgres.DB(); err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if db.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := db.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
	}
	return errors.Join(errs...)
}
