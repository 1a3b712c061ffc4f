// Package router connects form change notifications to the streaming
// connections previewing those forms.
//
// # Overview
//
// The router keeps three indices under one lock: a forward index from form
// id to the set of watching connection ids, a reverse index from connection
// id to the single form it watches, and an activity index used for idle
// eviction. The indices move together; a connection present in one is
// present in all, and a form whose last watcher leaves is dropped from the
// forward index entirely.
//
// # Delivery
//
// Created and deleted notifications dispatch immediately. Update
// notifications are debounced per form: each call arms a timer and replaces
// any pending one, so a burst of updates inside the window produces exactly
// one dispatch carrying the last payload. A deleted notification also
// cancels any pending update for the form, then force-closes its watchers
// once the delete event has been queued.
//
// # Liveness
//
// A background sweep evicts connections with no recorded activity inside
// the idle window. Dead connections discovered during dispatch (the
// registry no longer knows them) are unregistered after the send loop
// completes.
package router
