package notify

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"
)

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

type PubNubPublisher struct {
	publish func(channel string, message any) error
}

func NewPubNubPublisher(cfg PubNubConfig) *PubNubPublisher {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	pn := pubnub.NewPubNub(pnCfg)
	return &PubNubPublisher{
		publish: func(channel string, message any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
	}
}

func (p *PubNubPublisher) Notify(ctx context.Context, userID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("notify: empty user id")
	}
	if err := p.publish(UserChannel(userID), msg); err != nil {
		return fmt.Errorf("notify %s: %w", msg.Type, err)
	}
	return nil
}
