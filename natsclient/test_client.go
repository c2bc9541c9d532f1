package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultTestImage = "nats:2.11.7-alpine"
	// testImageEnv overrides the container image, e.g. for a mirrored registry.
	testImageEnv = "SENSORSTREAM_TEST_NATS_IMAGE"
)

// TestClient is a connected Client bound to a JetStream server running in a
// container.
type TestClient struct {
	Client *Client
	URL    string
}

// TestOption configures NewTestClient.
type TestOption func(*[]ClientOption)

// WithClientOptions passes options to the client under test. They are
// applied after the defaults: a 5s timeout and a 2s drain on Close.
func WithClientOptions(opts ...ClientOption) TestOption {
	return func(dst *[]ClientOption) {
		*dst = append(*dst, opts...)
	}
}

// StartTestServer runs a JetStream-enabled NATS container and returns its
// client URL and a terminate function. It takes no testing.T so TestMain can
// share one server.
func StartTestServer(ctx context.Context) (string, func(), error) {
	image := os.Getenv(testImageEnv)
	if image == "" {
		image = defaultTestImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz?js-enabled-only=true").WithPort("8222/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("start %s: %w", image, err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		terminate()
		return "", nil, fmt.Errorf("resolve nats endpoint: %w", err)
	}
	return endpoint, terminate, nil
}

// NewTestClient starts a server and connects a client to it. Both are torn
// down by t.Cleanup.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	ctx := context.Background()

	url, terminate, err := StartTestServer(ctx)
	if err != nil {
		t.Fatalf("Failed to start NATS: %v", err)
	}
	t.Cleanup(terminate)

	clientOpts := []ClientOption{WithTimeout(5 * time.Second), WithDrainTimeout(2 * time.Second)}
	for _, opt := range opts {
		opt(&clientOpts)
	}

	client, err := NewClient(url, clientOpts...)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return &TestClient{Client: client, URL: url}
}
