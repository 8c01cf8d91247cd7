package routing

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shellproxy/apigw"
)

func newRequest(t *testing.T, rawURL string, navigate bool) *apigw.Request {
	t.Helper()
	req, err := apigw.NewRequest(context.Background(), rawURL)
	require.NoError(t, err)
	req.Navigate = navigate
	return req
}

func TestClassifier_DefaultRules(t *testing.T) {
	classifier, err := NewClassifierFromConfig(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		url      string
		navigate bool
		want     Class
	}{
		{"backend host", "https://xyz.supabase.co/rest/v1/workouts", false, ClassNetworkFirst},
		{"api segment", "http://app.local/api/plan", false, ClassNetworkFirst},
		{"json suffix", "http://app.local/manifest.json", false, ClassNetworkFirst},
		{"json beats navigation", "http://app.local/data.json", true, ClassNetworkFirst},
		{"script", "http://app.local/assets/index-1a2b.js", false, ClassStaticAsset},
		{"stylesheet", "http://app.local/assets/index.css", false, ClassStaticAsset},
		{"font woff", "http://app.local/fonts/inter.woff", false, ClassStaticAsset},
		{"font woff2", "http://app.local/fonts/inter.woff2", false, ClassStaticAsset},
		{"icon", "http://app.local/favicon.ico", false, ClassStaticAsset},
		{"static path only", "http://app.local/page?file=app.js", false, ClassDefault},
		{"static beats navigation", "http://app.local/gymmatrix-logo.png", true, ClassStaticAsset},
		{"navigation", "http://app.local/workout", true, ClassNavigation},
		{"default", "http://app.local/workout", false, ClassDefault},
		{"api in query", "http://app.local/page?next=api/x", false, ClassNetworkFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Classify(newRequest(t, tt.url, tt.navigate)))
		})
	}
}

func TestClassifier_FirstMatchWins(t *testing.T) {
	classifier := NewClassifier(
		PathPattern(ClassStaticAsset, regexp.MustCompile(`\.js$`)),
		URLPattern(ClassNetworkFirst, regexp.MustCompile(`cdn`)),
	)

	assert.Equal(t, ClassStaticAsset, classifier.Classify(newRequest(t, "http://cdn.local/app.js", false)))
	assert.Equal(t, ClassNetworkFirst, classifier.Classify(newRequest(t, "http://cdn.local/page", false)))
}

func TestClassifier_EmptyRulesIsTotal(t *testing.T) {
	classifier := NewClassifier()

	assert.Equal(t, ClassDefault, classifier.Classify(newRequest(t, "http://app.local/", true)))
	assert.Equal(t, ClassDefault, classifier.Classify(nil))
}

func TestNewClassifierFromConfig_InvalidPattern(t *testing.T) {
	_, err := NewClassifierFromConfig(&Config{NetworkFirst: []string{"("}})
	assert.Error(t, err)

	cfg := &Config{StaticAssets: []string{"[a-"}}
	assert.Error(t, cfg.Validate())
	assert.NoError(t, DefaultConfig().Validate())
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "static_asset", ClassStaticAsset.String())
	assert.Equal(t, "network_first", ClassNetworkFirst.String())
	assert.Equal(t, "navigation", ClassNavigation.String())
	assert.Equal(t, "default", ClassDefault.String())
}
