package boachat

import "sync"

// Dispatcher routes room notifications to registered callbacks.
type Dispatcher struct {
	mu       sync.RWMutex
	onUpdate func(RoomUpdate)
	onReady  func()
	onError  func(error)
	onState  func(StateEvent)
}

func (d *Dispatcher) SetOnUpdate(fn func(RoomUpdate)) { d.mu.Lock(); d.onUpdate = fn; d.mu.Unlock() }
func (d *Dispatcher) SetOnReady(fn func())            { d.mu.Lock(); d.onReady = fn; d.mu.Unlock() }
func (d *Dispatcher) SetOnError(fn func(error))       { d.mu.Lock(); d.onError = fn; d.mu.Unlock() }
func (d *Dispatcher) SetOnState(fn func(StateEvent))  { d.mu.Lock(); d.onState = fn; d.mu.Unlock() }

func (d *Dispatcher) update(u RoomUpdate) {
	d.mu.RLock()
	fn := d.onUpdate
	d.mu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

func (d *Dispatcher) ready() {
	d.mu.RLock()
	fn := d.onReady
	d.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (d *Dispatcher) fireError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

func (d *Dispatcher) state(ev StateEvent) {
	d.mu.RLock()
	fn := d.onState
	d.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
