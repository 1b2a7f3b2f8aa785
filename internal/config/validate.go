package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation bounds.
const (
	minPollInterval   = time.Second
	minAlertThreshold = time.Minute
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks all configuration values, accumulating every error so a
// user sees the complete report in one pass.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateQbittorrent()...)
	errs = append(errs, c.validateAMQP()...)
	errs = append(errs, c.validateMonitor()...)

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path must not be empty"))
	}

	if len(c.Categories) == 0 {
		errs = append(errs, errors.New("categories must list at least one entry"))
	}

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

func (c *Config) validateQbittorrent() []error {
	var errs []error

	// url.Parse accepts almost anything, so require an absolute URL: a bare
	// "localhost:8080" parses with the host in the scheme position.
	if u, err := url.Parse(c.Qbittorrent.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("qbittorrent.url %q must be an absolute URL like http://localhost:8080", c.Qbittorrent.URL))
	}

	if c.Qbittorrent.Username == "" {
		errs = append(errs, errors.New("qbittorrent.username must not be empty"))
	}

	if c.Qbittorrent.Password == "" {
		errs = append(errs, errors.New("qbittorrent.password must not be empty"))
	}

	if _, err := time.ParseDuration(c.Qbittorrent.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("qbittorrent.timeout %q: %v", c.Qbittorrent.Timeout, err))
	}

	return errs
}

func (c *Config) validateAMQP() []error {
	var errs []error

	if c.AMQP.URL == "" {
		errs = append(errs, errors.New("amqp.url must not be empty"))
	}

	for name, value := range map[string]string{
		"amqp.exchange":        c.AMQP.Exchange,
		"amqp.notify_exchange": c.AMQP.NotifyExchange,
		"amqp.command_queue":   c.AMQP.CommandQueue,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}

	return errs
}

func (c *Config) validateMonitor() []error {
	var errs []error

	if d, err := time.ParseDuration(c.Monitor.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("monitor.poll_interval %q: %v", c.Monitor.PollInterval, err))
	} else if d < minPollInterval {
		errs = append(errs, fmt.Errorf("monitor.poll_interval %s is below the minimum %s", d, minPollInterval))
	}

	if d, err := time.ParseDuration(c.Monitor.AlertThreshold); err != nil {
		errs = append(errs, fmt.Errorf("monitor.alert_threshold %q: %v", c.Monitor.AlertThreshold, err))
	} else if d < minAlertThreshold {
		errs = append(errs, fmt.Errorf("monitor.alert_threshold %s is below the minimum %s", d, minAlertThreshold))
	}

	if c.Monitor.ServiceName == "" {
		errs = append(errs, errors.New("monitor.service_name must not be empty"))
	}

	return errs
}
