// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// kafkaHandle correlates one publish with its resolution. It is stashed in
// ProducerMessage.Metadata and pulled back out by the completion pump, the
// same correlation trick sarama's own examples use since Metadata survives
// the round trip through Successes()/Errors() untouched.
type kafkaHandle struct {
	done chan error
}

func (h *kafkaHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KafkaSink publishes segment payloads to a single topic using a
// sarama.AsyncProducer. Completions are resolved by a single background pump
// reading Successes() and Errors(), matching the channel shape of sarama's
// AsyncProducer (Input()/Successes()/Errors()).
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

// NewKafkaSink dials brokers and starts the completion pump. The caller owns
// the returned Sink's lifetime and must call Close once draining is done.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: dial brokers=%v: %w", brokers, err)
	}

	s := &KafkaSink{producer: producer, topic: topic, done: make(chan struct{})}
	go s.pump()
	return s, nil
}

func (s *KafkaSink) pump() {
	for {
		select {
		case msg, ok := <-s.producer.Successes():
			if !ok {
				return
			}
			if h, ok := msg.Metadata.(*kafkaHandle); ok {
				h.done <- nil
			}
		case perr, ok := <-s.producer.Errors():
			if !ok {
				return
			}
			if h, ok := perr.Msg.Metadata.(*kafkaHandle); ok {
				h.done <- fmt.Errorf("kafka publish: %w", perr.Err)
			}
		case <-s.done:
			return
		}
	}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, key string, payload []byte) (CompletionHandle, error) {
	h := &kafkaHandle{done: make(chan error, 1)}
	msg := &sarama.ProducerMessage{
		Topic:    s.topic,
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(payload),
		Metadata: h,
	}
	select {
	case s.producer.Input() <- msg:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	close(s.done)
	return s.producer.Close()
}
