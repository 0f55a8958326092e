/*
Package sdk provides the tinyevents client for recording analytics events
and user property changes from Go applications.

# Quick Start

Pick a consumer, wrap it in a client, and record events:

	package main

	import (
	    "log"

	    "github.com/nicktill/tinyevents/pkg/event"
	    "github.com/nicktill/tinyevents/pkg/sdk"
	    "github.com/nicktill/tinyevents/pkg/sdk/batch"
	)

	func main() {
	    consumer, err := batch.New(batch.Config{
	        ServerURL: "https://receiver.example.com",
	        AppID:     "your-app-id",
	        Compress:  true,
	    })
	    if err != nil {
	        log.Fatal(err)
	    }

	    client, err := sdk.New(consumer)
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer client.Close()

	    client.Track("account-1", "", "purchase", event.Properties{
	        "amount": 9.99,
	        "items":  []string{"book"},
	    })
	}

# Consumers

A consumer decides where records go:

  - logfile: appends JSON lines to rotating local files for a log shipper
  - batch: posts up to 20 records per request to the receiver
  - batch (NewAsync): the same on a worker goroutine; Send never waits for the network
  - debug: sends each record immediately and reports every failure
  - memory: keeps records in memory for tests

Consumers reporting IsStrict (debug, and memory when asked) make the client
validate each record before it is accepted: an account or distinct id must
be present, keys must match ^#?[a-zA-Z][a-zA-Z0-9_]{0,50}$ and user_add
values must be numbers. Other consumers skip these checks for throughput.

# Events and User Properties

	client.Track(accountID, distinctID, "login", props)
	client.TrackFirst(accountID, distinctID, "activation", deviceID, props)
	client.TrackUpdate(accountID, distinctID, "order", orderID, props)
	client.TrackOverwrite(accountID, distinctID, "order", orderID, props)

	client.UserSet(accountID, distinctID, event.Properties{"name": "Ada"})
	client.UserSetOnceKey(accountID, distinctID, "first_seen", time.Now())
	client.UserAddKey(accountID, distinctID, "logins", 1)
	client.UserUnset(accountID, distinctID, "nickname")
	client.UserDelete(accountID, distinctID)

The reserved keys #time, #ip, #uuid, #app_id and #first_check_id are lifted
out of the properties into the record itself.

# Public Properties

Public properties are added to every track event; explicit properties win:

	client.SetPublicProperties(event.Properties{"env": "prod"})

A dynamic provider is evaluated for every track event, after explicit
properties and before public ones:

	client.SetDynamicPublicProperties(runtime.NewProvider("checkout", 0))

# Configuration

NewFromConfig builds the consumer a config file selects:

	cfg, err := config.Load("tinyevents.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	config.FromEnv(&cfg)

	client, err := sdk.NewFromConfig(cfg, sdk.WithLogger(slog.Default()))

# Delivery Guarantees

Delivery is at most once. A batch that fails to send is dropped, never
retried. With ThrowOnError the failure is returned to the caller; otherwise
it is logged and the records not yet attempted stay queued. Call Flush before
exiting, and always Close the client.
*/
package sdk
