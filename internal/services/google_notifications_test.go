package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

func pubSubBody(t *testing.T, notification any) []byte {
	t.Helper()
	raw, err := json.Marshal(notification)
	require.NoError(t, err)
	return pubSubBodyRaw(t, base64.StdEncoding.EncodeToString(raw))
}

func pubSubBodyRaw(t *testing.T, data string) []byte {
	t.Helper()
	body, err := json.Marshal(models.PubSubPush{
		Message: models.PubSubMessage{
			Data:      data,
			MessageID: "136969346945",
		},
		Subscription: "projects/example/subscriptions/play-rtdn",
	})
	require.NoError(t, err)
	return body
}

func validPushHeader(t *testing.T, j *testGoogleJWKS) string {
	return "Bearer " + j.token(t, pushClaims(jwt.ClaimStrings{pushAudience}, time.Now().Add(time.Hour)))
}

func TestGoogleNotificationParser(t *testing.T) {
	j := newTestGoogleJWKS(t)
	parser := NewGoogleNotificationParser(newTestGoogleVerifier(j), pushAudience)

	body := []byte(`{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(
		`{"version":"1.0","packageName":"com.example.app","eventTimeMillis":"1717243200000",`+
			`"subscriptionNotification":{"version":"1.0","notificationType":2,"purchaseToken":"tok-sub","subscriptionId":"pro_monthly"}}`,
	)) + `","messageId":"136969346945"},"subscription":"projects/example/subscriptions/play-rtdn"}`)

	msg, n, err := parser.Parse(context.Background(), validPushHeader(t, j), body)
	require.NoError(t, err)
	assert.Equal(t, "136969346945", msg.MessageID)
	assert.Equal(t, "com.example.app", n.PackageName)
	assert.Equal(t, models.MillisInt64(1717243200000), n.EventTimeMillis)
	require.NotNil(t, n.SubscriptionNotification)
	assert.Equal(t, models.PlaySubscriptionRenewed, n.SubscriptionNotification.NotificationType)
}

func TestGoogleNotificationParserVerifiesHeaderFirst(t *testing.T) {
	j := newTestGoogleJWKS(t)
	parser := NewGoogleNotificationParser(newTestGoogleVerifier(j), pushAudience)

	_, _, err := parser.Parse(context.Background(), "Bearer forged", []byte(`not json`))
	assert.True(t, errors.Is(err, iaperrors.ErrInvalidGoogleSignature))

	wrongAud := "Bearer " + j.token(t, pushClaims(jwt.ClaimStrings{"https://elsewhere.example.com"}, time.Now().Add(time.Hour)))
	_, _, err = parser.Parse(context.Background(), wrongAud, pubSubBody(t, models.DeveloperNotification{TestNotification: &models.PlayTestNotification{}}))
	assert.True(t, errors.Is(err, iaperrors.ErrInvalidGoogleSignature))
}

func TestGoogleNotificationParserMalformedLayers(t *testing.T) {
	j := newTestGoogleJWKS(t)
	parser := NewGoogleNotificationParser(newTestGoogleVerifier(j), pushAudience)
	header := validPushHeader(t, j)

	twoKinds := pubSubBody(t, models.DeveloperNotification{
		TestNotification:           &models.PlayTestNotification{Version: "1.0"},
		VoidedPurchaseNotification: &models.PlayVoidedPurchaseNotification{PurchaseToken: "tok"},
	})
	cases := map[string][]byte{
		"envelope":   []byte(`{"message":`),
		"no data":    pubSubBodyRaw(t, ""),
		"base64":     pubSubBodyRaw(t, "%%%"),
		"inner json": pubSubBodyRaw(t, base64.StdEncoding.EncodeToString([]byte(`{"packageName":`))),
		"two kinds":  twoKinds,
	}
	for name, body := range cases {
		_, _, err := parser.Parse(context.Background(), header, body)
		assert.True(t, errors.Is(err, iaperrors.ErrParse), name)
	}
}
