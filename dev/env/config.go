package devenv

// RakurakuTestConfig holds the credentials of a real portal account, it is read
// from dev/.state/rakuraku_config.json5 by live tests.
type RakurakuTestConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}
