// Package gochannel provides the in-process event bus transport used by
// single-node deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const defaultBuffer = 1000

// CreateChannel returns one GoChannel serving as both publisher and subscriber.
// Publish does not wait for acknowledgement, so event handlers may publish.
// Messages published while nobody subscribes are dropped.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: defaultBuffer}, logger)

	return pubSub, pubSub, nil
}
