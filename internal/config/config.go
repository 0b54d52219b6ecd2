package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
)

// Config holds the check-in server configuration.  Each field corresponds
// to an environment variable.
type Config struct {
    Env               string // application environment (e.g. "dev", "prod")
    Port              string // HTTP port to listen on
    DBUser            string // database username
    DBPass            string // database password (optional)
    DBHost            string // database host address
    DBPort            string // database port number
    DBName            string // database name
    JWTSecret         string // secret used to sign and verify JWTs
    CredentialKeys    string // credential signing keys, "kid:hex[,kid:hex...]"; the first is active
    ActiveKeyID       string // overrides the active key id when set
    SupervisorPINHash string // bcrypt hash of the supervisor override PIN (optional)
    TokenTTLMin       int    // lifetime of minted access tokens in minutes
    BcryptCost        int    // bcrypt cost for PIN hashing in tools
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:               must("APP_ENV"),
        Port:              must("APP_PORT"),
        DBUser:            must("DB_USER"),
        DBPass:            os.Getenv("DB_PASS"), // empty allowed
        DBHost:            must("DB_HOST"),
        DBPort:            must("DB_PORT"),
        DBName:            must("DB_NAME"),
        JWTSecret:         must("JWT_SECRET"),
        CredentialKeys:    must("CHECKIN_KEYS"),
        ActiveKeyID:       os.Getenv("CHECKIN_ACTIVE_KEY"),
        SupervisorPINHash: os.Getenv("SUPERVISOR_PIN_HASH"),
        TokenTTLMin:       mustInt("ACCESS_TOKEN_TTL_MIN"),
        BcryptCost:        envInt("BCRYPT_COST", 12),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
