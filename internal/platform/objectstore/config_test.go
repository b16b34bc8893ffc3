package objectstore

import "testing"

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Bucket != "bundles" {
		t.Fatalf("Bucket=%q, want bundles", cfg.Bucket)
	}
}

func TestConfigValidate_RejectsScheme(t *testing.T) {
	cfg := Config{
		Endpoint:  "http://localhost:9000",
		AccessKey: "a",
		SecretKey: "s",
		Region:    "us-east-1",
		Bucket:    "bundles",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}

func TestConfigValidate_RequiresBucket(t *testing.T) {
	cfg := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "s",
		Region:    "us-east-1",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
