package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/blobvault/internal/audit"
	"github.com/kenneth/blobvault/internal/blobstore"
	"github.com/kenneth/blobvault/internal/config"
	"github.com/kenneth/blobvault/internal/crypto"
	"github.com/kenneth/blobvault/internal/debug"
	"github.com/kenneth/blobvault/internal/diagnostics"
	"github.com/kenneth/blobvault/internal/engine"
	"github.com/kenneth/blobvault/internal/metrics"
	"github.com/kenneth/blobvault/internal/remote"
)

func main() {
	var (
		keyfile            = flag.String("keyfile", "", "path to a symmetric secret source, used for both encrypt and decrypt")
		encryptionKeyfile  = flag.String("encryption-keyfile", "", "path to a raw Curve25519 public key; selects asymmetric encryption")
		decryptionKeyfile  = flag.String("decryption-keyfile", "", "path to a raw Curve25519 private key; selects asymmetric decryption")
		decryptFlag        = flag.Bool("decrypt", false, "run in decrypt mode")
		dumpManifest       = flag.Bool("dump-manifest", false, "print each input manifest's archived paths and blob names, then exit")
		dumpManifestIndex  = flag.Bool("dump-manifest-index", false, "print each input manifest's sorted blob-name index, then exit")
		consume            = flag.Bool("consume", false, "delete blobs and the manifest after a successful decrypt")
		saveTo             = flag.String("save-to", "", "comma-separated destination list, e.g. \"local:/backups,s3:my-bucket\"")
		chunkSize          = flag.Int("chunk-size", 0, "chunk size in bytes (overrides config default)")
		compressLevel      = flag.Int("compresslevel", 0, "zstd compression level 1..22 (overrides config default)")
		concurrency        = flag.Int("concurrency", 0, "number of files encrypted in parallel (overrides config default)")
		storeAbsolutePaths = flag.Bool("store-absolute-paths", false, "record archived_path as an absolute path instead of collapsing it to a basename")
		label              = flag.String("label", "", "prefix for the generated manifest filename")
		configPath         = flag.String("config", "", "path to a YAML config file")
		debugFlag          = flag.Bool("debug", false, "enable debug logging and runtime diagnostics")
		metricsAddr        = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	)
	flag.Parse()

	logger := logrus.New()
	if *debugFlag {
		logger.SetLevel(logrus.DebugLevel)
		debug.SetEnabled(true)
	} else {
		debug.InitFromEnv()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("blobvault: load config: %v", err)
	}
	applyFlagOverrides(&cfg, *saveTo, *chunkSize, *compressLevel, *concurrency, *storeAbsolutePaths, *label)

	if debug.Enabled() {
		logger.WithFields(logrus.Fields(diagnostics.Collect().AsMap())).Debug("runtime diagnostics")
	}

	m := metrics.NewMetrics()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, m, logger)
	}

	doDecrypt := *decryptFlag || *dumpManifest || *dumpManifestIndex || *decryptionKeyfile != ""

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit, isIndexOnly(*encryptionKeyfile, *decryptionKeyfile, doDecrypt))
	if err != nil {
		log.Fatalf("blobvault: init audit logger: %v", err)
	}
	defer auditLogger.Close()

	ctx := context.Background()

	secret, bData, err := resolveKeys(*keyfile, *encryptionKeyfile, *decryptionKeyfile, cfg.PassphraseEnvVar)
	if err != nil {
		log.Fatalf("blobvault: %v", err)
	}

	keyManager, err := buildKeyManager(cfg.KMIP)
	if err != nil {
		log.Fatalf("blobvault: build key manager: %v", err)
	}
	defer keyManager.Close(ctx)

	secret, err = wrapUnwrapRoundTrip(ctx, keyManager, secret)
	if err != nil {
		log.Fatalf("blobvault: key manager: %v", err)
	}

	bIdx := crypto.NewSymmetricBox(secret)

	store, err := buildStore(ctx, logger, cfg)
	if err != nil {
		log.Fatalf("blobvault: build blob store: %v", err)
	}

	inputs := flag.Args()

	if doDecrypt {
		resolver := remote.NewResolver(func(ctx context.Context, scheme, bucket string) (blobstore.Backend, error) {
			return backendForDestination(ctx, blobstore.Destination{Scheme: scheme, Bucket: bucket}, cfg)
		})
		dec := &engine.Decryptor{
			BData:    bData,
			BIdx:     bIdx,
			Store:    store,
			Resolver: resolver,
			Consume:  *consume,
			Logger:   logger,
			Metrics:  m,
			Audit:    auditLogger,
		}

		switch {
		case *dumpManifestIndex:
			for _, in := range inputs {
				if err := dec.DumpManifestIndex(ctx, in, os.Stdout); err != nil {
					log.Fatalf("blobvault: dump manifest index %s: %v", in, err)
				}
			}
		case *dumpManifest:
			for _, in := range inputs {
				if err := dec.DumpManifest(ctx, in, os.Stdout); err != nil {
					log.Fatalf("blobvault: dump manifest %s: %v", in, err)
				}
			}
		default:
			if err := dec.Decrypt(ctx, inputs); err != nil {
				log.Fatalf("blobvault: %v", err)
			}
		}
		return
	}

	enc := &engine.Encryptor{
		Secret:             secret,
		BData:              bData,
		BIdx:               bIdx,
		Store:              store,
		ChunkSize:          cfg.ChunkSize,
		CompressLevel:      cfg.CompressLevel,
		Concurrency:        cfg.Concurrency,
		StoreAbsolutePaths: cfg.StoreAbsolutePaths,
		Label:              cfg.Label,
		Logger:             logger,
		Metrics:            m,
		Audit:              auditLogger,
	}

	if _, mfnName, err := enc.Encrypt(ctx, inputs, ""); err != nil {
		log.Fatalf("blobvault: %v", err)
	} else {
		fmt.Fprintln(os.Stdout, mfnName)
	}
}

func applyFlagOverrides(cfg *config.BlobvaultConfig, saveTo string, chunkSize, compressLevel, concurrency int, storeAbsolutePaths bool, label string) {
	if saveTo != "" {
		cfg.SaveTo = saveTo
	}
	if chunkSize > 0 {
		cfg.ChunkSize = chunkSize
	}
	if compressLevel > 0 {
		cfg.CompressLevel = compressLevel
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if storeAbsolutePaths {
		cfg.StoreAbsolutePaths = true
	}
	if label != "" {
		cfg.Label = label
	}
}

// isIndexOnly reports whether this invocation holds only the index secret
// S and not the key material needed to read file content, so audit events
// must redact archived_path per spec §8 invariant 5's privilege boundary.
func isIndexOnly(encryptionKeyfile, decryptionKeyfile string, doDecrypt bool) bool {
	return encryptionKeyfile != "" && decryptionKeyfile == "" && doDecrypt
}

// resolveKeys implements §6.1's key-mode detection, grounded on the
// reference implementation's get_secret/get_asymmetric_encryption: an
// asymmetric keyfile always wins over --keyfile when both are given.
func resolveKeys(keyfile, encryptionKeyfile, decryptionKeyfile, passphraseEnvVar string) (crypto.Key, crypto.DataBox, error) {
	if decryptionKeyfile != "" {
		raw, err := os.ReadFile(decryptionKeyfile)
		if err != nil {
			return crypto.Key{}, nil, fmt.Errorf("read decryption keyfile: %w", err)
		}
		priv, pub, err := privateKeyFromBytes(raw)
		if err != nil {
			return crypto.Key{}, nil, err
		}
		return secretFromPublicKey(pub, passphraseEnvVar), crypto.NewSealedBoxForDecrypt(pub, priv), nil
	}
	if encryptionKeyfile != "" {
		raw, err := os.ReadFile(encryptionKeyfile)
		if err != nil {
			return crypto.Key{}, nil, fmt.Errorf("read encryption keyfile: %w", err)
		}
		pub, err := publicKeyFromBytes(raw)
		if err != nil {
			return crypto.Key{}, nil, err
		}
		return secretFromPublicKey(pub, passphraseEnvVar), crypto.NewSealedBoxForEncrypt(pub), nil
	}
	if keyfile == "" {
		return crypto.Key{}, nil, fmt.Errorf("one of --keyfile, --encryption-keyfile, or --decryption-keyfile is required")
	}
	f, err := os.Open(keyfile)
	if err != nil {
		return crypto.Key{}, nil, fmt.Errorf("open keyfile: %w", err)
	}
	defer f.Close()
	secret, err := crypto.SecretFromKeyfile(f)
	if err != nil {
		return crypto.Key{}, nil, err
	}
	return secret, crypto.NewSymmetricBox(secret), nil
}

func publicKeyFromBytes(raw []byte) (crypto.PublicKey, error) {
	if len(raw) != 32 {
		return crypto.PublicKey{}, fmt.Errorf("public key must be exactly 32 bytes, got %d", len(raw))
	}
	var pub crypto.PublicKey
	copy(pub[:], raw)
	return pub, nil
}

func privateKeyFromBytes(raw []byte) (crypto.PrivateKey, crypto.PublicKey, error) {
	if len(raw) != 32 {
		return crypto.PrivateKey{}, crypto.PublicKey{}, fmt.Errorf("private key must be exactly 32 bytes, got %d", len(raw))
	}
	var priv crypto.PrivateKey
	copy(priv[:], raw)
	pub, err := crypto.PublicKeyFromPrivate(priv)
	if err != nil {
		return crypto.PrivateKey{}, crypto.PublicKey{}, err
	}
	return priv, pub, nil
}

// secretFromPublicKey derives the content secret S for asymmetric mode: the
// raw public key bytes, optionally mixed with an operator passphrase via
// HMAC so that knowledge of the public key alone (which is not secret) does
// not by itself grant index enumeration. See DESIGN.md Open Question 2.
// Mixing is opt-in via BLOBVAULT_MIX_PASSPHRASE=true, reading the actual
// passphrase from the env var named by cfg.PassphraseEnvVar.
func secretFromPublicKey(pub crypto.PublicKey, passphraseEnvVar string) crypto.Key {
	var s crypto.Key
	copy(s[:], pub[:])

	mix := os.Getenv("BLOBVAULT_MIX_PASSPHRASE")
	if (mix == "true" || mix == "1") && passphraseEnvVar != "" {
		if passphrase := os.Getenv(passphraseEnvVar); passphrase != "" {
			mixKey := crypto.KDFFromPassphrase([]byte(passphrase))
			mixed := crypto.KeyedHash(mixKey, pub[:])
			copy(s[:], mixed[:])
		}
	}
	return s
}

// buildKeyManager constructs the KeyManager §4.11 names: the default
// no-op StaticKeyManager, or a CosmianKMIPManager when kmipCfg.Enabled.
func buildKeyManager(kmipCfg config.KMIPConfig) (crypto.KeyManager, error) {
	if !kmipCfg.Enabled {
		return crypto.NewStaticKeyManager(), nil
	}
	if kmipCfg.KeyID == "" {
		return nil, fmt.Errorf("kmip enabled but no key_id configured (BLOBVAULT_KMIP_KEY_ID)")
	}
	version := kmipCfg.KeyVersion
	if version <= 0 {
		version = 1
	}

	opts := crypto.CosmianKMIPOptions{
		Endpoint: kmipCfg.Endpoint,
		Keys:     []crypto.KMIPKeyReference{{ID: kmipCfg.KeyID, Version: version}},
		Provider: kmipCfg.Provider,
	}
	if kmipCfg.CAFile != "" {
		pem, err := os.ReadFile(kmipCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read kmip ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse kmip ca file %s: no certificates found", kmipCfg.CAFile)
		}
		opts.TLSConfig = &tls.Config{RootCAs: pool}
	}

	return crypto.NewCosmianKMIPManager(opts)
}

// wrapUnwrapRoundTrip proves the configured KeyManager out on every
// invocation: S is wrapped and immediately unwrapped, so a StaticKeyManager
// is a no-op and a CosmianKMIPManager never lets S touch disk, not even
// transiently, while still failing fast if the KMIP server is unreachable.
func wrapUnwrapRoundTrip(ctx context.Context, km crypto.KeyManager, secret crypto.Key) (crypto.Key, error) {
	if err := km.HealthCheck(ctx); err != nil {
		return crypto.Key{}, fmt.Errorf("%s health check: %w", km.Provider(), err)
	}
	envelope, err := km.WrapKey(ctx, secret[:], map[string]string{"component": "blobvault"})
	if err != nil {
		return crypto.Key{}, fmt.Errorf("%s wrap key: %w", km.Provider(), err)
	}
	plaintext, err := km.UnwrapKey(ctx, envelope, map[string]string{"component": "blobvault"})
	if err != nil {
		return crypto.Key{}, fmt.Errorf("%s unwrap key: %w", km.Provider(), err)
	}
	var out crypto.Key
	copy(out[:], plaintext)
	return out, nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logrus.Logger) {
	m.StartSystemMetricsCollector()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.WithField("addr", addr).Info("serving metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("metrics server exited")
	}
}

func buildStore(ctx context.Context, logger *logrus.Logger, cfg config.BlobvaultConfig) (*blobstore.Store, error) {
	dests, err := blobstore.ParseDestinations(cfg.SaveTo)
	if err != nil {
		return nil, err
	}
	backends := make([]blobstore.Backend, len(dests))
	for i, d := range dests {
		b, err := backendForDestination(ctx, d, cfg)
		if err != nil {
			return nil, err
		}
		backends[i] = b
	}
	return blobstore.NewStore(logger, dests, backends)
}

// backendForDestination constructs the Backend for one parsed Destination,
// per §6.7's capability-interface mapping.
func backendForDestination(ctx context.Context, d blobstore.Destination, cfg config.BlobvaultConfig) (blobstore.Backend, error) {
	var backend blobstore.Backend
	var err error

	switch d.Scheme {
	case "local":
		root := d.Bucket
		if root == "" {
			root = "."
		}
		backend, err = blobstore.NewLocalBackend(root)
	case "s3", "b2":
		s3cfg, ferr := s3ConfigForBucket(d, cfg)
		if ferr != nil {
			return nil, ferr
		}
		backend, err = blobstore.NewS3Backend(ctx, s3cfg)
	default:
		return blobstore.NewExecBackend(d.Scheme), nil
	}
	if err != nil {
		return nil, fmt.Errorf("build backend for %s: %w", d.Scheme, err)
	}

	if cfg.RedisCache.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisCache.Addr})
		backend = blobstore.NewCachedBackend(backend, client, "blobvault:"+d.Scheme+":"+d.Bucket, cfg.RedisCacheTTL())
	}
	return backend, nil
}

func s3ConfigForBucket(d blobstore.Destination, cfg config.BlobvaultConfig) (blobstore.S3Config, error) {
	for _, s3d := range cfg.S3Destinations {
		if s3d.Bucket == d.Bucket {
			provider := s3d.Provider
			if provider == "" && d.Scheme == "b2" {
				provider = "backblaze"
			}
			return blobstore.S3Config{
				Bucket:    s3d.Bucket,
				Region:    s3d.Region,
				Endpoint:  s3d.Endpoint,
				AccessKey: s3d.AccessKey,
				SecretKey: s3d.SecretKey,
				Provider:  provider,
			}, nil
		}
	}
	return blobstore.S3Config{}, fmt.Errorf("no s3_destinations entry configured for bucket %q", d.Bucket)
}
