package daemon

import (
	"errors"
	"fmt"

	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/publish"
	"firestige.xyz/dgawatch/internal/reputation"
)

// OpenStore connects the configured reputation store.
func OpenStore(cfg *config.Config) (reputation.Store, error) {
	switch cfg.Store.Type {
	case "memory":
		return reputation.NewMemoryStore(cfg.Store.Blacklisted, cfg.Store.Whitelisted), nil
	case "mongo":
		return reputation.DialMongo(reputation.MongoOptions{
			URI:        cfg.Store.URI,
			Database:   cfg.Store.Database,
			Blacklist:  cfg.Store.Blacklist,
			Whitelist:  cfg.Store.Whitelist,
			Results:    cfg.Store.Results,
			MatchField: cfg.Store.MatchField,
			Timeout:    cfg.Store.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q: %w", cfg.Store.Type, core.ErrConfigInvalid)
	}
}

// OpenPublisher connects the configured broker.
func OpenPublisher(cfg *config.Config) (publish.Publisher, error) {
	switch cfg.Broker.Type {
	case "memory":
		return publish.NewMemoryPublisher(), nil
	case "amqp":
		return publish.DialAMQP(cfg.Broker.URL, cfg.Broker.Queue, cfg.Broker.ConfirmTimeout)
	case "kafka":
		return publish.NewKafkaPublisher(cfg.Broker.Kafka.Brokers, cfg.Broker.Queue, cfg.Broker.Kafka.Compression, cfg.Broker.ConfirmTimeout)
	default:
		return nil, fmt.Errorf("unknown broker type %q: %w", cfg.Broker.Type, core.ErrConfigInvalid)
	}
}

// ExitCode maps a terminal error to the process exit status. An explicit code attached
// with core.WithExitCode wins over the error's kind.
func ExitCode(err error) core.ExitCode {
	if err == nil {
		return core.ExitSuccess
	}
	var coded *core.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, core.ErrConfigInvalid), errors.Is(err, core.ErrInvalidConnString):
		return core.ExitConfigCheckFailure
	case errors.Is(err, core.ErrPublishTimeout):
		return core.ExitPublisherTimeout
	case errors.Is(err, core.ErrStoreUnavailable):
		return core.ExitStoreConnectionFailure
	case errors.Is(err, core.ErrCaptureFailed):
		return core.ExitCaptureCreationFailure
	default:
		return core.ExitFailure
	}
}
