package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hookrelay/internal/constants"
	"hookrelay/internal/models"
	"hookrelay/pkg/circuitbreaker"
	"hookrelay/pkg/notify"
)

// SenderRegistry routes outbound messages to the sender for a channel
// type. Each channel type gets its own circuit breaker so a flapping
// provider does not take the others down with it.
type SenderRegistry struct {
	mu       sync.RWMutex
	senders  map[models.ChannelType]notify.Sender
	breakers map[models.ChannelType]*circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewSenderRegistry(logger *logrus.Logger) *SenderRegistry {
	return &SenderRegistry{
		senders:  make(map[models.ChannelType]notify.Sender),
		breakers: make(map[models.ChannelType]*circuitbreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Register adds a sender, replacing any existing sender for its type.
func (r *SenderRegistry) Register(sender notify.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelType := sender.Type()
	r.senders[channelType] = sender
	r.breakers[channelType] = circuitbreaker.New(
		fmt.Sprintf("sender-%s", channelType),
		constants.DefaultBreakerMaxFailures,
		time.Duration(constants.DefaultBreakerResetTimeoutSec)*time.Second,
		r.logger,
	)
}

// RegisterDefaults installs the built-in senders for every supported
// channel type.
func (r *SenderRegistry) RegisterDefaults() {
	r.Register(notify.NewTelegramSender())
	r.Register(notify.NewDiscordSender())
	r.Register(notify.NewSlackSender())
	r.Register(notify.NewEmailSender())
	r.Register(notify.NewTwitterSender())
}

// Send delivers message through the sender registered for channelType,
// guarded by that type's circuit breaker. Returns the provider response.
func (r *SenderRegistry) Send(ctx context.Context, channelType models.ChannelType, config json.RawMessage, message string) (string, error) {
	r.mu.RLock()
	sender, ok := r.senders[channelType]
	breaker := r.breakers[channelType]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no sender registered for channel type %s", channelType)
	}

	var response string
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		response, sendErr = sender.Send(ctx, config, message)
		return sendErr
	})
	return response, err
}

// Supported reports whether a sender exists for channelType.
func (r *SenderRegistry) Supported(channelType models.ChannelType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[channelType]
	return ok
}
