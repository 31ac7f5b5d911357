package config

import (
	"os"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereocam/utils"
)

// matchingKeys lists the keys a matching configuration must define.
var matchingKeys = []string{
	"min_disparity",
	"num_disparities",
	"block_size",
	"disp_12_max_diff",
	"uniqueness_ratio",
	"speckle_window_size",
	"speckle_range",
	"pre_filter_cap",
}

// readDocument reads a YAML file with environment variables substituted and returns its root
// mapping. Missing files and empty documents are reported as ErrConfigurationMissing.
func readDocument(filePath string) (*yaml.Node, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrConfigurationMissing, "%s", filePath)
		}
		return nil, errors.Wrapf(err, "cannot read %s", filePath)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, errors.Wrapf(ErrConfigurationInvalid, "%s: %v", filePath, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Tag == "!!null" {
		return nil, errors.Wrapf(ErrConfigurationMissing, "%s is empty", filePath)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.Wrapf(ErrConfigurationInvalid, "%s: expected a mapping at the top level", filePath)
	}
	return root, nil
}

func mappingHasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// ReadMatchingConfig reads and validates a matching configuration. Every key of the matcher must
// be present; `mode` is optional and defaults to sgbm_3way.
func ReadMatchingConfig(filePath string) (*MatchingConfig, error) {
	root, err := readDocument(filePath)
	if err != nil {
		return nil, err
	}
	for _, key := range matchingKeys {
		if !mappingHasKey(root, key) {
			return nil, NewFieldRequiredError(filePath, key)
		}
	}

	cfg := &MatchingConfig{Mode: ModeSGBM3Way}
	if err := root.Decode(cfg); err != nil {
		return nil, errors.Wrapf(ErrConfigurationInvalid, "%s: %v", filePath, err)
	}
	if err := cfg.Validate(filePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadRigConfig reads and validates a rig configuration, filling in default artifact names.
func ReadRigConfig(filePath string) (*RigConfig, error) {
	root, err := readDocument(filePath)
	if err != nil {
		return nil, err
	}
	if !mappingHasKey(root, "pattern") {
		return nil, NewFieldRequiredError(filePath, "pattern")
	}

	cfg := &RigConfig{}
	if err := root.Decode(cfg); err != nil {
		return nil, errors.Wrapf(ErrConfigurationInvalid, "%s: %v", filePath, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(filePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteMatchingConfig writes cfg as YAML to filePath. The file is replaced atomically.
func WriteMatchingConfig(filePath string, cfg MatchingConfig) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "cannot encode matching config")
	}
	return utils.WriteFileAtomic(filePath, func(f *os.File) error {
		//nolint:gosec
		if err := f.Chmod(0o644); err != nil {
			return err
		}
		_, err := f.Write(out)
		return err
	})
}
