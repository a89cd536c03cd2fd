package extend

import (
	"strconv"
	"strings"
)

// Option tokens accepted in the extended mount option string.
const (
	OptionDelayUpdateTime = "delayupdatetime"
	OptionWBNice          = "wbnice"
)

// optionSeparator splits tokens; "," is taken by the regular mount options.
const optionSeparator = ";"

// ParseOptions applies a ";"-separated extended option string to the config.
//
// On first mount the config is marked valid before parsing. A remount reuses
// the live config as is: fields are overwritten one by one while readers may
// still be consulting them.
//
// Parsing stops at the first bad token and returns an *OptionError naming it.
// Tokens applied before the bad one stay applied.
func (c *Config) ParseOptions(options string, remount bool) error {
	if !remount {
		c.mu.Lock()
		c.opts |= OptValid
		c.mu.Unlock()
	}

	for _, token := range strings.Split(options, optionSeparator) {
		if token == "" {
			continue
		}
		if err := c.applyOption(token); err != nil {
			return &OptionError{Option: token, Err: err}
		}
		logger.Trace("Applied extended option %q", token)
	}
	return nil
}

func (c *Config) applyOption(token string) error {
	name, value, hasValue := strings.Cut(token, "=")

	switch name {
	case OptionDelayUpdateTime:
		c.mu.Lock()
		c.opts |= OptDelayUpdateTime
		c.delayUpdateTime = DefaultDelayUpdateTime
		c.mu.Unlock()

		if !hasValue {
			return nil
		}
		val, err := parseUint(value)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.delayUpdateTime = uint32(val)
		c.mu.Unlock()
		return nil

	case OptionWBNice:
		if hasValue {
			return ErrUnsupportedOption
		}
		c.mu.Lock()
		c.opts |= OptWBNice
		c.wbEnable = 1
		c.mu.Unlock()
		return nil

	default:
		return ErrUnsupportedOption
	}
}

// String renders the enabled options in the format ParseOptions accepts.
func (s Snapshot) String() string {
	var tokens []string
	if s.Options.Has(OptDelayUpdateTime) {
		tokens = append(tokens, OptionDelayUpdateTime+"="+strconv.FormatUint(uint64(s.DelayUpdateTime), 10))
	}
	if s.Options.Has(OptWBNice) {
		tokens = append(tokens, OptionWBNice)
	}
	return strings.Join(tokens, optionSeparator)
}
