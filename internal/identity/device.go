// Package identity resolves the two stable identities Recall needs
// before it can attribute an event to anything: the local device, and
// the project a directory belongs to.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/recall-tools/recall/internal/config"
)

// Device is the stable per-install identity, persisted once and never
// mutated except for its nickname and last-seen timestamp.
type Device struct {
	DeviceID    string    `json:"device_id"`
	Nickname    string    `json:"nickname"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// GetOrCreateDevice returns the persisted device identity, creating one
// on first call. Subsequent calls always return the same device_id.
func GetOrCreateDevice() (*Device, error) {
	path := config.GlobalDevicePath()

	data, err := os.ReadFile(path)
	if err == nil {
		var d Device
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse device identity: %w", err)
		}
		d.LastSeenAt = time.Now().UTC()
		if err := writeDevice(path, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device identity: %w", err)
	}

	now := time.Now().UTC()
	d := &Device{
		DeviceID:   uuid.New().String(),
		Nickname:   defaultNickname(),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := writeDevice(path, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetNickname updates the device's display nickname.
func SetNickname(nickname string) (*Device, error) {
	d, err := GetOrCreateDevice()
	if err != nil {
		return nil, err
	}
	d.Nickname = nickname
	if err := writeDevice(config.GlobalDevicePath(), d); err != nil {
		return nil, err
	}
	return d, nil
}

func writeDevice(path string, d *Device) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create device identity dir: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal device identity: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write device identity: %w", err)
	}
	return nil
}

// defaultNickname makes a best-effort guess at a human-readable name
// for this machine: hostname, else the invoking user, else "unknown".
func defaultNickname() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
