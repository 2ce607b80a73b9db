package config

// StorageSettings configures the object store product images are written to.
type StorageSettings struct {
	Type         string `mapstructure:"type" validate:"required,oneof=s3 gcs memory"`
	Endpoint     string `mapstructure:"endpoint" validate:"omitempty,url"` // MinIO or any S3 compatible endpoint
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	PublicURL    string `mapstructure:"public_url" validate:"omitempty,url"` // base of returned image URLs, defaults to Endpoint
	UsePathStyle bool   `mapstructure:"use_path_style"`
	ProjectID    string `mapstructure:"project_id"`
}
