// Package testutil provides fakes and fixtures for pipeline tests.
//
// FakeTransport stands in for a broker client: tests push payloads with
// Deliver, simulate outages with Drop and FailConnects, and count acks.
//
// FakeStore is an in-memory storage.Store whose Insert can be made to fail
// a set number of times or permanently.
//
// Reading and Payload build valid telemetry with little ceremony:
//
//	r := testutil.Reading("sensor-1", 34, 50)
//	transport.Deliver(testutil.Payload(t, r))
package testutil
