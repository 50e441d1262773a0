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

package flusher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessHandle_StartRunsUntilStopFlag(t *testing.T) {
	shared := NewSharedState()
	ran := make(chan struct{})
	h := NewInProcessHandle(func(ctx context.Context, s *SharedState) error {
		close(ran)
		for !s.StopFlag.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
		}
		return nil
	}, shared)

	require.NoError(t, h.Start())
	<-ran
	assert.True(t, h.IsAlive())

	shared.StopFlag.Store(true)
	require.NoError(t, h.Wait(context.Background()))
	assert.False(t, h.IsAlive())
}

func TestInProcessHandle_TerminateCancelsContext(t *testing.T) {
	shared := NewSharedState()
	h := NewInProcessHandle(func(ctx context.Context, s *SharedState) error {
		<-ctx.Done()
		return nil
	}, shared)

	require.NoError(t, h.Start())
	h.Terminate()
	require.NoError(t, h.Wait(context.Background()))
	assert.True(t, shared.StopFlag.Load())
}

func TestInProcessHandle_WaitSurfacesRunError(t *testing.T) {
	shared := NewSharedState()
	boom := errors.New("boom")
	h := NewInProcessHandle(func(context.Context, *SharedState) error { return boom }, shared)

	require.NoError(t, h.Start())
	err := h.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestInProcessHandle_RestartAfterStop(t *testing.T) {
	shared := NewSharedState()
	runs := 0
	h := NewInProcessHandle(func(ctx context.Context, s *SharedState) error {
		runs++
		<-ctx.Done()
		return nil
	}, shared)

	require.NoError(t, h.Start())
	h.Terminate()
	require.NoError(t, h.Wait(context.Background()))

	require.NoError(t, h.Start())
	require.Eventually(t, func() bool { return runs == 2 }, time.Second, time.Millisecond)
	h.Terminate()
	require.NoError(t, h.Wait(context.Background()))
}
