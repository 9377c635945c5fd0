package config

import (
	"time"

	"marginbook/internal/logging"
	"marginbook/internal/num"
)

// Duration is a time.Duration written as a string ("5m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) Get() time.Duration {
	return d.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LogLevel is a logging.Level written by name.
type LogLevel struct {
	logging.Level
}

func (l *LogLevel) Get() logging.Level {
	return l.Level
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	var err error
	l.Level, err = logging.ParseLevel(string(text))
	return err
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Price is a price written as a decimal string ("101.25").
type Price struct {
	Ticks uint64
}

func (p *Price) UnmarshalText(text []byte) error {
	var err error
	p.Ticks, err = num.ParsePrice(string(text))
	return err
}

func (p Price) MarshalText() ([]byte, error) {
	return []byte(num.PriceDecimal(p.Ticks).String()), nil
}

// Size is a base size written as a decimal string ("0.01").
type Size struct {
	*num.Uint
}

func (s *Size) UnmarshalText(text []byte) error {
	u, err := num.ParseSize(string(text))
	if err != nil {
		return err
	}
	s.Uint = u
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	if s.Uint == nil {
		return []byte("0"), nil
	}
	return []byte(num.BaseDecimal(s.Uint).String()), nil
}
