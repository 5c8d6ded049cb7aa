package channel

import (
	"fmt"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/adapter/ota"
	"github.com/Guizzs26/go-channel-sync/internal/adapter/pms"
	"github.com/Guizzs26/go-channel-sync/internal/config"
	"github.com/Guizzs26/go-channel-sync/internal/models"
)

// CodecFor picks the protocol adapter matching the channel type
func CodecFor(cfg models.ChannelConfig) (adapter.Codec, error) {
	settings := adapter.SettingsFrom(cfg)
	switch cfg.Type {
	case models.ChannelOTA:
		return ota.New(settings), nil
	case models.ChannelPMS:
		return pms.New(settings), nil
	default:
		return nil, fmt.Errorf("no protocol adapter for channel type %q", cfg.Type)
	}
}

// Factory builds clients from configuration; the scheduler calls it at the start of every run
// so credential or endpoint edits apply to the next run
type Factory struct {
	opts []Option
}

func NewFactory(opts ...Option) *Factory {
	return &Factory{opts: opts}
}

// ClientFor validates the configuration and builds a client for it
func (f *Factory) ClientFor(cfg models.ChannelConfig) (*Client, error) {
	if err := config.ValidateChannel(cfg); err != nil {
		return nil, err
	}
	codec, err := CodecFor(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, codec, f.opts...), nil
}
