package mlclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/logging"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mockBase = "http://ml.test"

func mockClient(t *testing.T, m *metrics.ExternalMetrics) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	cfg := domain.MLConfig{
		BaseURL:          mockBase,
		PredictCacheSize: 16,
		PredictCacheTTL:  time.Minute,
	}
	c := NewClient(cfg, m, logging.Discard(), WithHTTPClient(&http.Client{Transport: transport}))
	return c, transport
}

func serverClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(domain.MLConfig{BaseURL: srv.URL, Timeout: 5 * time.Second, TrainTimeout: 5 * time.Second}, nil, logging.Discard())
}

func patient() domain.ClinicalInputs {
	return domain.ClinicalInputs{
		Age:                     domain.Float(45),
		Sex:                     domain.SexMale,
		BMI:                     domain.Float(27.5),
		ALT:                     domain.Float(55.3),
		AST:                     domain.Float(42.7),
		ALP:                     domain.Float(110.2),
		Bilirubin:               domain.Float(1.12),
		Albumin:                 domain.Float(4.4),
		DrugRiskScore:           domain.Float(8),
		AlcoholUse:              domain.Yes,
		PreexistingLiverDisease: domain.YesNoPtr(domain.No),
		DailyDoseMg:             domain.Float(750),
		DrugDurationDays:        domain.Float(45),
	}
}

func TestPredict_SendsWireShapeAndNormalizes(t *testing.T) {
	m, err := metrics.NewExternalMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	c, transport := mockClient(t, m)

	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			assert.Equal(t, 45.0, body["Age"])
			assert.Equal(t, 1.0, body["Sex"])
			assert.Equal(t, 1.0, body["Alcohol_Use"])
			assert.Equal(t, 0.0, body["Preexisting_Liver_Disease"])
			assert.Equal(t, 8.0, body["Drug_Risk_Score"])
			assert.Equal(t, 750.0, body["Daily_Dose_mg"])
			assert.Equal(t, 55.3, body["ALT"])
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"predicted_class":  1,
				"label":            "DILI (Toxic)",
				"probability_dili": 0.87,
			})
		})

	out, err := c.Predict(context.Background(), patient())
	require.NoError(t, err)
	assert.Equal(t, 1, *out.PredictedClass)
	assert.Equal(t, "DILI (Toxic)", out.Label)
	assert.Equal(t, 0.87, *out.Confidence)
	assert.Equal(t, 0.87, *out.ProbabilityDILI)
	assert.True(t, *out.IsDisease)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Latency))
}

func TestPredict_FallbackResponseKeys(t *testing.T) {
	c, transport := mockClient(t, nil)
	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"prediction": 0, "confidence": 0.31}`))

	out, err := c.Predict(context.Background(), patient())
	require.NoError(t, err)
	assert.Equal(t, 0, *out.PredictedClass)
	assert.Equal(t, "No DILI (Safe)", out.Label)
	assert.Equal(t, 0.31, *out.Confidence)
	assert.Nil(t, out.ProbabilityDILI)
	assert.False(t, *out.IsDisease)
}

func TestPredict_CachesIdenticalInputs(t *testing.T) {
	c, transport := mockClient(t, nil)
	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"predicted_class": 1, "probability_dili": 0.9}`))

	first, err := c.Predict(context.Background(), patient())
	require.NoError(t, err)
	*first.Confidence = 0 // callers may not corrupt the cache

	second, err := c.Predict(context.Background(), patient())
	require.NoError(t, err)
	assert.Equal(t, 0.9, *second.Confidence)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	other := patient()
	other.Age = domain.Float(46)
	_, err = c.Predict(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestPredict_RejectsIncompleteInput(t *testing.T) {
	c, transport := mockClient(t, nil)

	in := patient()
	in.Age = nil
	in.Sex = "male"

	_, err := c.Predict(context.Background(), in)
	var errs domain.ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 2)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestPredict_UpstreamFailureIsNetworkError(t *testing.T) {
	c, transport := mockClient(t, nil)
	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"detail":"model not loaded"}`))

	_, err := c.Predict(context.Background(), patient())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, domain.HTTPStatus(err))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "model not loaded")
}

func TestPredict_BreakerOpensOnRepeatedFailures(t *testing.T) {
	c, transport := mockClient(t, nil)
	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	for i := 0; i < 3; i++ {
		_, err := c.Predict(context.Background(), patient())
		require.Error(t, err)
	}

	_, err := c.Predict(context.Background(), patient())
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 3, transport.GetTotalCallCount())
	assert.Equal(t, "open", c.BreakerStates()["predict"])
}

func TestPredict_ClientErrorsDoNotTripBreaker(t *testing.T) {
	c, transport := mockClient(t, nil)
	transport.RegisterResponder(http.MethodPost, mockBase+"/predict",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"detail":"BMI out of range"}`))

	for i := 0; i < 5; i++ {
		_, err := c.Predict(context.Background(), patient())
		require.Error(t, err)
	}
	assert.Equal(t, 5, transport.GetTotalCallCount())
	assert.Equal(t, "closed", c.BreakerStates()["predict"])
}

func TestExtract_UploadsMultipart(t *testing.T) {
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "report.png", header.Filename)
		assert.Equal(t, "fake image", string(content))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ALT": "55.3", "ast": 42.7, "Albumin": "n/a"}`)
	})

	values, err := c.Extract(context.Background(), "report.png", strings.NewReader("fake image"))
	require.NoError(t, err)
	assert.Equal(t, 55.3, *values.ALT)
	assert.Equal(t, 42.7, *values.AST)
	assert.Nil(t, values.ALP)
	assert.Nil(t, values.Albumin)
	assert.Equal(t, 2, values.Found())
}

func TestExtract_NestedValues(t *testing.T) {
	fields := map[string]interface{}{
		"values": map[string]interface{}{"bilirubin": 1.2, "ALP": 80.0},
	}
	values := parseLabValues(fields)
	assert.Equal(t, 1.2, *values.Bilirubin)
	assert.Equal(t, 80.0, *values.ALP)
}

func TestTrain_StreamsPhases(t *testing.T) {
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, phase := range []string{"Dataset Preparation", "Model Fitting & Training"} {
			fmt.Fprintf(w, "{\"phase\":%q,\"status\":\"running\"}\n", phase)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "\n{\"status\":\"done\"}\n")
	})

	var phases []string
	err := c.Train(context.Background(), func(e PhaseEvent) {
		phases = append(phases, e.Phase)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dataset Preparation", "Model Fitting & Training"}, phases)
}

func TestTrain_PlainJSONBody(t *testing.T) {
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{\n  \"message\": \"Model retrained\"\n}")
	})

	called := false
	require.NoError(t, c.Train(context.Background(), func(PhaseEvent) { called = true }))
	assert.False(t, called)
}

func TestTrain_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"reported", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "{\"phase\":\"Model Evaluation\",\"status\":\"failed\",\"message\":\"accuracy regression\"}\n")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serverClient(t, tt.handler)
			err := c.Train(context.Background(), nil)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadGateway, domain.HTTPStatus(err))
		})
	}
}

func TestTrain_CancelledContext(t *testing.T) {
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a closed connection once the body is read.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Train(ctx, nil))
}
