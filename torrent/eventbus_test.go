// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package torrent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(StateChanged{State: Downloading})

	select {
	case e := <-sub.Events():
		require.Equal(StateChanged{State: Downloading}, e)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusFanOut(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish(PieceCompleted{Index: 3})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events():
			require.Equal(PieceCompleted{Index: 3}, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestEventBusPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize*4; i++ {
			bus.Publish(PieceCompleted{Index: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never drained its channel")
	}
}

func TestEventBusOrderPreservedPerSubscriber(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	sub := bus.Subscribe()
	defer sub.Close()

	const n = subscriberQueueSize * 3
	for i := 0; i < n; i++ {
		bus.Publish(PieceCompleted{Index: i})
	}

	for i := 0; i < n; i++ {
		select {
		case e := <-sub.Events():
			require.Equal(PieceCompleted{Index: i}, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestEventBusCloseClosesSubscriberChannels(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	sub := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-sub.Events():
		require.False(ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

func TestEventBusSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	bus.Close()

	sub := bus.Subscribe()
	select {
	case _, ok := <-sub.Events():
		require.False(ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	require := require.New(t)

	bus := NewEventBus()
	sub := bus.Subscribe()
	sub.Close()

	// Publish must not panic or deadlock after the only subscriber left.
	bus.Publish(StateChanged{State: Seeding})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Publish(StateChanged{State: Paused})
	}()
	wg.Wait()

	_, ok := <-sub.Events()
	require.False(ok)
}
