package config

import (
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/fleetops/tripsync/internal/points"
	"github.com/fleetops/tripsync/internal/tripapi"
	"github.com/fleetops/tripsync/internal/warehouse"
)

// LoadTripAPIConfig loads trip API configuration from Viper with direct
// environment variable fallbacks for the secrets.
func LoadTripAPIConfig() (tripapi.Config, error) {
	cfg := tripapi.Config{
		BaseURL:  viper.GetString("tripapi.base_url"),
		Token:    viper.GetString("tripapi.token"),
		Email:    viper.GetString("tripapi.email"),
		Password: viper.GetString("tripapi.password"),
		Timeout:  viper.GetDuration("tripapi.timeout"),
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("TRIP_API_TOKEN")
	}
	if cfg.Email == "" {
		cfg.Email = os.Getenv("TRIP_API_EMAIL")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("TRIP_API_PASSWORD")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return tripapi.Config{}, err
	}
	return cfg, nil
}

// LoadWarehouseConfig loads warehouse API configuration from Viper with
// environment variable fallbacks for the credentials.
func LoadWarehouseConfig() (warehouse.Config, error) {
	cfg := warehouse.Config{
		URL:           viper.GetString("warehouse.url"),
		Username:      viper.GetString("warehouse.username"),
		Password:      viper.GetString("warehouse.password"),
		Timeout:       viper.GetDuration("warehouse.timeout"),
		ExportTimeout: viper.GetDuration("warehouse.export_timeout"),
		MaxRetries:    viper.GetInt("warehouse.max_retries"),
	}

	if cfg.Username == "" {
		cfg.Username = os.Getenv("WAREHOUSE_USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("WAREHOUSE_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return warehouse.Config{}, err
	}
	return cfg, nil
}

// LoadPointsConfig loads the trip-points question configuration.
func LoadPointsConfig() points.Config {
	return points.Config{
		QuestionID:   viper.GetInt("warehouse.points_question_id"),
		ExportFormat: viper.GetString("warehouse.export_format"),
	}
}
