// Package infra bootstraps the Firebase Admin SDK clients.
package infra

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Firebase owns the admin app. Clients are created on demand so a process
// that only needs Firestore never initialises messaging.
type Firebase struct {
	app *firebase.App
}

// NewFirebase initialises the admin app. With no credentials file the SDK
// falls back to application default credentials.
func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	return &Firebase{app: app}, nil
}

func (f *Firebase) Firestore(ctx context.Context) (*firestore.Client, error) {
	c, err := f.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firestore client: %w", err)
	}
	return c, nil
}

func (f *Firebase) Messaging(ctx context.Context) (*messaging.Client, error) {
	c, err := f.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return c, nil
}
