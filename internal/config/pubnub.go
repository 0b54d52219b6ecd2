package config

// PubNubConfig controls live check-in notifications.  Publishing is
// disabled unless both keys are set.
type PubNubConfig struct {
    PublishKey    string
    SubscribeKey  string
    UserID        string
    ChannelPrefix string
}

func LoadPubNubConfig() PubNubConfig {
    return PubNubConfig{
        PublishKey:    envStr("PUBNUB_PUBLISH_KEY", ""),
        SubscribeKey:  envStr("PUBNUB_SUBSCRIBE_KEY", ""),
        UserID:        envStr("PUBNUB_USER_ID", "checkin-server"),
        ChannelPrefix: envStr("PUBNUB_CHANNEL_PREFIX", "checkin-"),
    }
}

// Enabled reports whether enough keys are present to publish.
func (c PubNubConfig) Enabled() bool { return c.PublishKey != "" && c.SubscribeKey != "" }
