package deployer

import "fmt"

const (
	LabelService     = "rewind.service"
	LabelEnvironment = "rewind.environment"
	LabelVersion     = "rewind.version"
	LabelRole        = "rewind.role"

	LabelHealthCheckPath = "rewind.health-check-path" // optional, defaults to "/"
	LabelPort            = "rewind.port"              // optional
)

const InstanceRole = "instance"

// InstanceLabels identifies a managed container. Every instance the deployer
// starts carries the full set, which is how rollbacks find the containers of
// a particular version later.
type InstanceLabels struct {
	Service         string
	Environment     string
	Version         string
	Role            string
	Port            string
	HealthCheckPath string
}

func ParseInstanceLabels(labels map[string]string) (*InstanceLabels, error) {
	il := &InstanceLabels{
		Service:     labels[LabelService],
		Environment: labels[LabelEnvironment],
		Version:     labels[LabelVersion],
		Role:        labels[LabelRole],
	}

	if v, ok := labels[LabelPort]; ok {
		il.Port = v
	}

	if v, ok := labels[LabelHealthCheckPath]; ok {
		il.HealthCheckPath = v
	} else {
		il.HealthCheckPath = "/"
	}

	if err := il.IsValid(); err != nil {
		return nil, err
	}
	return il, nil
}

func (il *InstanceLabels) ToLabels() map[string]string {
	labels := map[string]string{
		LabelService:         il.Service,
		LabelEnvironment:     il.Environment,
		LabelVersion:         il.Version,
		LabelRole:            il.Role,
		LabelHealthCheckPath: il.HealthCheckPath,
	}
	if il.Port != "" {
		labels[LabelPort] = il.Port
	}
	return labels
}

func (il *InstanceLabels) IsValid() error {
	if il.Service == "" {
		return fmt.Errorf("service label is required")
	}
	if il.Environment == "" {
		return fmt.Errorf("environment label is required")
	}
	if il.Version == "" {
		return fmt.Errorf("version label is required")
	}
	if il.Role != InstanceRole {
		return fmt.Errorf("role must be '%s'", InstanceRole)
	}
	return nil
}
