package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateVariantRejectsBannedPhrase(t *testing.T) {
	ok, reason := validateVariant(variantDraft{
		Body: "Act now and sign up today, this is a great opportunity for your business to grow fast.",
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "banned phrase")
}

func TestValidateVariantRejectsPlaceholderLeakage(t *testing.T) {
	ok, reason := validateVariant(variantDraft{
		Body: "Hi {{name}}, I noticed your site could use some improvements in several key areas of performance.",
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "placeholder leakage")
}

func TestValidateVariantRejectsTooShort(t *testing.T) {
	ok, reason := validateVariant(variantDraft{Body: "short"})
	assert.False(t, ok)
	assert.Contains(t, reason, "shorter than")
}

func TestValidateVariantRejectsTooLong(t *testing.T) {
	ok, reason := validateVariant(variantDraft{Body: strings.Repeat("a", maxBodyLength+1)})
	assert.False(t, ok)
	assert.Contains(t, reason, "longer than")
}

func TestValidateVariantAcceptsReasonableBody(t *testing.T) {
	ok, reason := validateVariant(variantDraft{
		Subject: "Quick thought on your homepage",
		Body:    "Hi there, I took a look at your homepage and noticed a few quick wins around page load time and mobile layout that could help conversion.",
	})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestDecodePlatformsFallsBackToDefault(t *testing.T) {
	assert.Equal(t, defaultPlatforms, decodePlatforms(map[string]any{}))
	assert.Equal(t, defaultPlatforms, decodePlatforms("not a map"))
}

func TestDecodePlatformsReadsExplicitList(t *testing.T) {
	got := decodePlatforms(map[string]any{"platforms": []any{"email", "twitter"}})
	assert.Equal(t, []string{"email", "twitter"}, got)
}
