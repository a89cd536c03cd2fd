package extend

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	t.Run("DelayAndNice", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("delayupdatetime=500;wbnice", false))

		s := c.Snapshot()
		assert.True(t, s.Options.Has(OptValid))
		assert.True(t, s.Options.Has(OptDelayUpdateTime))
		assert.True(t, s.Options.Has(OptWBNice))
		assert.Equal(t, uint32(500), s.DelayUpdateTime)
		assert.True(t, s.WritebackNiceEnabled)
	})

	t.Run("DelayWithoutValueUsesDefault", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("delayupdatetime", false))
		assert.Equal(t, uint32(DefaultDelayUpdateTime), c.DelayUpdateTime())
		assert.False(t, c.Options().Has(OptWBNice))
	})

	t.Run("EmptyTokensSkipped", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions(";;wbnice;;", false))
		assert.True(t, c.Options().Has(OptWBNice))
	})

	t.Run("EmptyString", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("", false))
		assert.Equal(t, OptValid, c.Options())
	})

	t.Run("Unsupported", func(t *testing.T) {
		c := NewConfig(nil)
		err := c.ParseOptions("bogus", false)
		require.ErrorIs(t, err, ErrUnsupportedOption)

		var optErr *OptionError
		require.True(t, errors.As(err, &optErr))
		assert.Equal(t, "bogus", optErr.Option)

		opts := c.Options()
		assert.False(t, opts.Has(OptDelayUpdateTime))
		assert.False(t, opts.Has(OptWBNice))
	})

	t.Run("NiceTakesNoValue", func(t *testing.T) {
		c := NewConfig(nil)
		require.ErrorIs(t, c.ParseOptions("wbnice=3", false), ErrUnsupportedOption)
	})

	t.Run("InvalidDelay", func(t *testing.T) {
		for _, opts := range []string{"delayupdatetime=", "delayupdatetime=-1", "delayupdatetime=abc", "delayupdatetime=1_0"} {
			c := NewConfig(nil)
			err := c.ParseOptions(opts, false)
			assert.ErrorIs(t, err, ErrInvalidValue, opts)
		}
	})

	t.Run("FailFastKeepsEarlierTokens", func(t *testing.T) {
		c := NewConfig(nil)
		err := c.ParseOptions("wbnice;bogus;delayupdatetime=10", false)
		require.ErrorIs(t, err, ErrUnsupportedOption)

		opts := c.Options()
		assert.True(t, opts.Has(OptWBNice))
		assert.False(t, opts.Has(OptDelayUpdateTime))
	})

	t.Run("DelayTruncatedToFieldWidth", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("delayupdatetime=4294967297", false))
		assert.Equal(t, uint32(1), c.DelayUpdateTime())
	})

	t.Run("DelayBaseDetected", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("delayupdatetime=0x10", false))
		assert.Equal(t, uint32(16), c.DelayUpdateTime())
	})

	t.Run("LastValueWins", func(t *testing.T) {
		c := NewConfig(nil)
		require.NoError(t, c.ParseOptions("delayupdatetime=5;delayupdatetime=7", false))
		assert.Equal(t, uint32(7), c.DelayUpdateTime())
	})
}

func TestParseOptionsRemount(t *testing.T) {
	c := NewConfig(nil)
	require.NoError(t, c.ParseOptions("delayupdatetime=100", true))
	assert.False(t, c.Options().Has(OptValid), "remount must not mark a config valid")

	c = NewConfig(nil)
	require.NoError(t, c.ParseOptions("delayupdatetime=100", false))
	require.NoError(t, c.ParseOptions("delayupdatetime=200;wbnice", true))

	s := c.Snapshot()
	assert.True(t, s.Options.Has(OptValid))
	assert.Equal(t, uint32(200), s.DelayUpdateTime)
	assert.True(t, s.WritebackNiceEnabled)
}

func TestParseOptionsConcurrentReaders(t *testing.T) {
	c := NewConfig(nil)
	require.NoError(t, c.ParseOptions("delayupdatetime=100;wbnice", false))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = c.Snapshot()
					_ = c.DelayUpdateTime()
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, c.ParseOptions("delayupdatetime=300", true))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, uint32(300), c.DelayUpdateTime())
}

func TestSnapshotString(t *testing.T) {
	c := NewConfig(nil)
	require.NoError(t, c.ParseOptions("wbnice;delayupdatetime=250", false))
	assert.Equal(t, "delayupdatetime=250;wbnice", c.Snapshot().String())

	assert.Equal(t, "", NewConfig(nil).Snapshot().String())
}
