// Package config implements C18: process configuration for skdp-server and
// skdp-admin, adapted from this repo's config package. The JWT key manager
// and Vault client are kept verbatim in purpose, now guarding the admin
// API's session token instead of a chat user's login token, and layered
// under viper so flags, environment, and a YAML file can all supply the
// same settings.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// JWTKeyManager provides secure admin API session token secret management
// with rotation support.
type JWTKeyManager struct {
	currentSecret    string
	previousSecret   string
	rotationTime     time.Time
	rotationInterval time.Duration
	lock             sync.RWMutex
	logger           *log.Logger
}

// VaultClient provides secure secret management via HashiCorp Vault.
type VaultClient struct {
	client     *api.Client
	mountPath  string
	secretPath string
	logger     *log.Logger
}

var (
	keyManager = &JWTKeyManager{
		logger: log.New(os.Stdout, "[JWT-ROTATION] ", log.Ldate|log.Ltime|log.LUTC),
	}
	vaultClient *VaultClient
)

// InitializeKeyManager sets up the JWT key manager with the current secret.
func InitializeKeyManager(secret string) {
	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()

	keyManager.currentSecret = secret
	keyManager.previousSecret = ""
	keyManager.rotationTime = time.Now()
	keyManager.rotationInterval = 24 * time.Hour
	keyManager.logger.Printf("JWT key manager initialized with rotation interval: %v", keyManager.rotationInterval)
}

// InitializeVaultClient sets up a HashiCorp Vault client for secret
// management.
func InitializeVaultClient(vaultAddr, token, mountPath, secretPath string) error {
	cfg := &api.Config{Address: vaultAddr}

	client, err := api.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	if _, err := client.Sys().Health(); err != nil {
		return fmt.Errorf("failed to connect to Vault: %w", err)
	}

	vaultClient = &VaultClient{
		client:     client,
		mountPath:  mountPath,
		secretPath: secretPath,
		logger:     log.New(os.Stdout, "[VAULT] ", log.Ldate|log.Ltime|log.LUTC),
	}
	vaultClient.logger.Printf("Vault client initialized - address: %s, mount: %s, path: %s",
		vaultAddr, mountPath, secretPath)
	return nil
}

// GetSecretFromVault retrieves a secret field from HashiCorp Vault.
func GetSecretFromVault(key string) (string, error) {
	if vaultClient == nil {
		return "", fmt.Errorf("vault client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := vaultClient.client.KVv2(vaultClient.mountPath).Get(ctx, vaultClient.secretPath)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found in Vault path: %s/%s", vaultClient.mountPath, vaultClient.secretPath)
	}

	value, ok := secret.Data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found or not a string", key)
	}
	return value, nil
}

// GetAdminTokenSecretFromVault retrieves the admin API's session token
// secret from Vault, falling back to the environment.
func GetAdminTokenSecretFromVault() (string, error) {
	if vaultClient != nil {
		secret, err := GetSecretFromVault("admin_token_secret")
		if err == nil && secret != "" {
			vaultClient.logger.Printf("admin token secret retrieved from Vault")
			return secret, nil
		}
		vaultClient.logger.Printf("failed to get admin token secret from Vault, falling back to environment: %v", err)
	}

	secret := os.Getenv("SKDP_ADMIN_TOKEN_SECRET")
	if secret == "" {
		return "", fmt.Errorf("SKDP_ADMIN_TOKEN_SECRET not found in Vault or environment")
	}
	return secret, nil
}

// GetCurrentSecret provides thread-safe access to the current token secret.
func GetCurrentSecret() string {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.currentSecret
}

// GetPreviousSecret provides thread-safe access to the previous token
// secret, accepted during a rotation's transition window.
func GetPreviousSecret() string {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.previousSecret
}

// RotateSecret performs secure admin token secret rotation with dual-key
// support.
func RotateSecret(newSecret string) error {
	if err := ValidateTokenSecret(newSecret); err != nil {
		return fmt.Errorf("new admin token secret validation failed: %w", err)
	}

	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()

	keyManager.logger.Printf("starting admin token secret rotation - current: %s, new: %s",
		secretPreview(keyManager.currentSecret), secretPreview(newSecret))

	keyManager.previousSecret = keyManager.currentSecret
	keyManager.currentSecret = newSecret
	keyManager.rotationTime = time.Now()

	keyManager.logger.Printf("admin token secret rotation completed, transition period started")
	return nil
}

func secretPreview(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ValidateTokenSecret checks that a token secret meets minimum strength
// requirements.
func ValidateTokenSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("token secret cannot be empty")
	}
	if len(secret) < 32 {
		return fmt.Errorf("token secret must be at least 32 characters long")
	}
	unique := make(map[rune]bool)
	for _, r := range secret {
		unique[r] = true
	}
	if len(unique) < 10 {
		return fmt.Errorf("token secret must contain at least 10 unique characters")
	}
	return nil
}

// ServerConfig holds all configuration for an skdp-server process.
type ServerConfig struct {
	ServerID       string
	Suite          profile.Suite
	ListenAddr     string
	AdminAddr      string
	KeyStoreDir    string
	VaultAddr      string
	VaultToken     string
	VaultMount     string
	VaultSecret    string
	RedisAddr      string
	RedisDB        int
	ConsulAddr     string
	PostgresURL    string
	SQLitePath     string
	MinioEndpoint  string
	MinioKey       string
	MinioSecret    string
	MinioBucket    string
	MinioUseSSL    bool
	AdminTokenKey  string
	RateLimitRPS   float64
	RateLimitBurst int
}

// loadEnvFiles loads .env, then .env.<SKDP_ENV>, then .env.local, matching
// the ordering used throughout this repo.
func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("SKDP_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

// LoadServerConfig builds a ServerConfig from a YAML file (if present),
// environment variables (SKDP_ prefix), and defaults, in viper's standard
// precedence order.
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix("SKDP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server-id", "skdp-server-1")
	v.SetDefault("suite", "aes256gcm")
	v.SetDefault("listen-addr", ":14480")
	v.SetDefault("admin-addr", ":14481")
	v.SetDefault("keystore-dir", "./keys")
	v.SetDefault("vault-mount", "secret")
	v.SetDefault("vault-secret", "skdp")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("consul-addr", "localhost:8500")
	v.SetDefault("sqlite-path", "./skdp-audit.db")
	v.SetDefault("minio-endpoint", "localhost:9000")
	v.SetDefault("minio-key", "minioadmin")
	v.SetDefault("minio-secret", "minioadmin123")
	v.SetDefault("minio-bucket", "skdp-sessions")
	v.SetDefault("minio-use-ssl", false)
	v.SetDefault("rate-limit-rps", 50.0)
	v.SetDefault("rate-limit-burst", 100)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	vaultAddr := v.GetString("vault-addr")
	vaultToken := v.GetString("vault-token")
	if vaultAddr != "" && vaultToken != "" {
		if err := InitializeVaultClient(vaultAddr, vaultToken, v.GetString("vault-mount"), v.GetString("vault-secret")); err != nil {
			log.Printf("warning: failed to initialize Vault client: %v", err)
			log.Printf("falling back to environment variables for secrets")
		}
	}

	tokenSecret, err := GetAdminTokenSecretFromVault()
	if err != nil {
		return nil, fmt.Errorf("config: admin token secret: %w", err)
	}
	if err := ValidateTokenSecret(tokenSecret); err != nil {
		return nil, fmt.Errorf("config: admin token secret: %w", err)
	}
	InitializeKeyManager(tokenSecret)

	suite, err := parseSuiteName(v.GetString("suite"))
	if err != nil {
		return nil, err
	}

	return &ServerConfig{
		ServerID:       v.GetString("server-id"),
		Suite:          suite,
		ListenAddr:     v.GetString("listen-addr"),
		AdminAddr:      v.GetString("admin-addr"),
		KeyStoreDir:    v.GetString("keystore-dir"),
		VaultAddr:      vaultAddr,
		VaultToken:     vaultToken,
		VaultMount:     v.GetString("vault-mount"),
		VaultSecret:    v.GetString("vault-secret"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisDB:        v.GetInt("redis-db"),
		ConsulAddr:     v.GetString("consul-addr"),
		PostgresURL:    v.GetString("postgres-url"),
		SQLitePath:     v.GetString("sqlite-path"),
		MinioEndpoint:  v.GetString("minio-endpoint"),
		MinioKey:       v.GetString("minio-key"),
		MinioSecret:    v.GetString("minio-secret"),
		MinioBucket:    v.GetString("minio-bucket"),
		MinioUseSSL:    v.GetBool("minio-use-ssl"),
		AdminTokenKey:  tokenSecret,
		RateLimitRPS:   v.GetFloat64("rate-limit-rps"),
		RateLimitBurst: v.GetInt("rate-limit-burst"),
	}, nil
}

func parseSuiteName(name string) (profile.Suite, error) {
	switch strings.ToLower(name) {
	case "aes256gcm", "aes-256-gcm", "":
		return profile.SuiteAES256GCM, nil
	case "rcs256", "rcs-256":
		return profile.SuiteRCS256, nil
	case "rcs512", "rcs-512":
		return profile.SuiteRCS512, nil
	default:
		return 0, fmt.Errorf("config: unknown suite %q", name)
	}
}

// GetAdminTokenSecret provides secure access to the current admin token
// secret with validation.
func GetAdminTokenSecret() (string, error) {
	secret := GetCurrentSecret()
	if secret == "" {
		return "", fmt.Errorf("admin token secret not initialized")
	}
	if err := ValidateTokenSecret(secret); err != nil {
		return "", err
	}
	return secret, nil
}

// GetAllActiveSecrets returns both current and previous secrets for
// dual-key token validation during a rotation window.
func GetAllActiveSecrets() (current, previous string, hasPrevious bool) {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.currentSecret, keyManager.previousSecret, keyManager.previousSecret != ""
}

// GetRotationInfo returns information about the last rotation.
func GetRotationInfo() (lastRotation time.Time, interval time.Duration) {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()
	return keyManager.rotationTime, keyManager.rotationInterval
}

// SetRotationInterval sets the automatic rotation interval, enforcing a
// one hour floor.
func SetRotationInterval(interval time.Duration) {
	keyManager.lock.Lock()
	defer keyManager.lock.Unlock()

	if interval < time.Hour {
		keyManager.logger.Printf("warning: rotation interval %v too short, using minimum 1 hour", interval)
		interval = time.Hour
	}
	keyManager.rotationInterval = interval
	keyManager.logger.Printf("rotation interval set to: %v", interval)
}

// ShouldRotate reports whether automatic rotation is due.
func ShouldRotate() bool {
	keyManager.lock.RLock()
	defer keyManager.lock.RUnlock()

	if keyManager.rotationInterval <= 0 {
		return false
	}
	return time.Since(keyManager.rotationTime) >= keyManager.rotationInterval
}
