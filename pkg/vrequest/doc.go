// Package vrequest is a fluent request builder over the request queue.
//
// A Request collects a URL (literal or from a Loader), a method, a JSON body
// and listeners, then dispatches itself through the process-wide Manager:
//
//	vrequest.New[Item]().
//		With(app).
//		Load("https://api.example.com/items/1").
//		OnSuccess(func(item *Item) { ... }).
//		OnError(func(err error) { ... }).
//		Fetch()
//
// Listeners run on the queue's delivery goroutine, one at a time. A response
// body that cannot be decoded into the target type reaches the success
// listener as nil.
package vrequest
