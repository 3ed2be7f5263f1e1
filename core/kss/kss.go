// Package kss stores large binary contents outside of the entity store.
//
// There are two drivers: a local file system and AWS S3. Keys are plain
// relative names; ".." is refused in keys.
package kss

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Driver defines the interface for the KSS service
type Driver interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// ErrNotFound is returned by Get for unknown keys
var ErrNotFound = errors.New("kss: key not found")

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the AWS S3 KSS service
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	KeyPrefix     string
}

// New creates the driver selected by the configuration. It returns nil
// without error for DriverType None.
func New(ctx context.Context, c Configuration) (Driver, error) {
	switch c.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if c.LocalConfiguration == nil {
			return nil, fmt.Errorf("kss driver %s requires a local configuration", c.DriverType)
		}
		return NewLocalFilesystem(c.LocalConfiguration.BasePath)
	case DriverTypeAWSS3:
		if c.S3Configuration == nil {
			return nil, fmt.Errorf("kss driver %s requires an S3 configuration", c.DriverType)
		}
		return NewS3(ctx, *c.S3Configuration)
	default:
		return nil, fmt.Errorf("unknown kss driver '%s'", c.DriverType)
	}
}

func checkKey(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid kss key '%s'", key)
	}
	return nil
}
