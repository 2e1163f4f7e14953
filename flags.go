package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// keepAliveValue is a pflag.Value for on|off|keepidle:keepintvl:keepcnt.
type keepAliveValue struct {
	text string
	cfg  net.KeepAliveConfig
}

func newKeepAliveValue(def string) *keepAliveValue {
	v := &keepAliveValue{}
	if err := v.Set(def); err != nil {
		panic(err)
	}
	return v
}

func (v *keepAliveValue) String() string { return v.text }

func (v *keepAliveValue) Type() string { return "keepalive" }

func (v *keepAliveValue) Set(s string) error {
	cfg, err := parseTCPKeepAlive(s)
	if err != nil {
		return err
	}
	v.text, v.cfg = s, cfg
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.TrimSpace(strings.ToLower(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	idle, intvl, cnt, ok := splitThree(s)
	if !ok {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}

	cfg := net.KeepAliveConfig{Enable: true}
	for _, f := range []struct {
		name string
		text string
		set  func(int)
	}{
		{"keepidle", idle, func(n int) { cfg.Idle = time.Duration(n) * time.Second }},
		{"keepintvl", intvl, func(n int) { cfg.Interval = time.Duration(n) * time.Second }},
		{"keepcnt", cnt, func(n int) { cfg.Count = n }},
	} {
		n, err := parsePositiveInt(f.text)
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", f.name, err)
		}
		f.set(n)
	}

	return cfg, nil
}

func splitThree(s string) (string, string, string, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

// Copy buffers larger than this only waste memory per connection.
const maxBufferSize = 16 * datasize.MB

// byteSizeValue is a pflag.Value accepting sizes such as 32KB or 1MB.
type byteSizeValue datasize.ByteSize

func (v *byteSizeValue) String() string { return datasize.ByteSize(*v).String() }

func (v *byteSizeValue) Type() string { return "size" }

func (v *byteSizeValue) Set(s string) error {
	var bs datasize.ByteSize
	if err := bs.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	if bs == 0 || bs > maxBufferSize {
		return fmt.Errorf("must be between 1B and %s", maxBufferSize)
	}
	*v = byteSizeValue(bs)
	return nil
}

func (v *byteSizeValue) Bytes() int {
	return int(datasize.ByteSize(*v).Bytes())
}
