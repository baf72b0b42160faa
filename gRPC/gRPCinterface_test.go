package proto

import (
	"context"
	"errors"
	"image"
	"net"
	"testing"
	"time"

	"CascadeDetServer/cascade"
	"CascadeDetServer/geometry"
	"CascadeDetServer/imaging"
	iface "CascadeDetServer/interface"
	"CascadeDetServer/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeDecode returns a blank 320x240 frame for anything but "garbage".
func fakeDecode(data []byte) (iface.Frame, error) {
	if string(data) == "garbage" {
		return nil, errors.New("decoded image is empty or unsupported format")
	}
	return imaging.NewImageFrame(image.NewRGBA(image.Rect(0, 0, 320, 240))), nil
}

func startServer(t *testing.T, main iface.Model) *CascadeServiceClient {
	t.Helper()
	sub := iface.ModelFunc(func(_ context.Context, f iface.Frame) ([]iface.Region, error) {
		b := f.Bounds()
		return []iface.Region{{Label: "face", Score: 0.5, Box: geometry.BoundingBox{XMax: float64(b.Dx()), YMax: float64(b.Dy())}}}, nil
	})
	failing := iface.ModelFunc(func(context.Context, iface.Frame) ([]iface.Region, error) {
		return nil, errors.New("timeout talking to host")
	})
	reg, err := registry.New(main, 2, map[string][]registry.SubModel{
		"person": {
			{Name: "face", Model: sub, Weights: geometry.Weights{W: 1, H: 0.5}},
			{Name: "gear", Model: failing, Weights: geometry.Wildcard},
		},
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	s := Serve(lis, NewServer(cascade.New(reg), fakeDecode))
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewCascadeServiceClient(conn)
}

func detector(regions ...iface.Region) iface.Model {
	return iface.ModelFunc(func(context.Context, iface.Frame) ([]iface.Region, error) {
		return append([]iface.Region(nil), regions...), nil
	})
}

func TestCascadeService(t *testing.T) {
	client := startServer(t, detector(
		iface.Region{Label: "person", Score: 0.9, Box: geometry.BoundingBox{XMin: 10, YMin: 10, XMax: 110, YMax: 210}},
		iface.Region{Label: "car", Score: 0.8, Box: geometry.BoundingBox{XMin: 200, YMin: 0, XMax: 300, YMax: 100}},
	))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Test Predict", func(t *testing.T) {
		resp, err := client.Predict(ctx, []byte("jpeg"))
		require.NoError(t, err)
		m := resp.AsMap()
		assert.NotEmpty(t, m["requestId"])

		regions := m["regions"].([]any)
		require.Len(t, regions, 2)
		person := regions[0].(map[string]any)
		assert.Equal(t, "person", person["label"])
		subs := person["subPredictions"].([]any)
		require.Len(t, subs, 1)
		face := subs[0].(map[string]any)
		assert.Equal(t, "face", face["label"])
		assert.Equal(t, float64(100), face["box"].(map[string]any)["ymax"])

		car := regions[1].(map[string]any)
		assert.NotContains(t, car, "subPredictions")

		failures := m["failures"].([]any)
		require.Len(t, failures, 1)
		f := failures[0].(map[string]any)
		assert.Equal(t, "gear", f["subModel"])
		assert.Equal(t, "prediction", f["kind"])
		assert.Equal(t, float64(0), f["regionIndex"])
	})

	t.Run("Test Predict Invalid Image", func(t *testing.T) {
		_, err := client.Predict(ctx, []byte("garbage"))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test Describe", func(t *testing.T) {
		resp, err := client.Describe(ctx)
		require.NoError(t, err)
		m := resp.AsMap()
		assert.Equal(t, float64(2), m["maxConcurrentRequests"])
		person := m["subModels"].(map[string]any)["person"].([]any)
		require.Len(t, person, 2)
		assert.Equal(t, "*", person[1].(map[string]any)["weights"])
	})
}

func TestCascadeService_PrimaryFailure(t *testing.T) {
	client := startServer(t, iface.ModelFunc(func(context.Context, iface.Frame) ([]iface.Region, error) {
		return nil, errors.New("detector offline")
	}))
	_, err := client.Predict(context.Background(), []byte("jpeg"))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "detector offline")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, codes.DeadlineExceeded, status.Code(statusFor(context.DeadlineExceeded)))
	assert.Equal(t, codes.Canceled, status.Code(statusFor(context.Canceled)))
	assert.Equal(t, codes.Internal, status.Code(statusFor(errors.New("x"))))
}
