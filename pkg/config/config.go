// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads, defaults and validates buffer manager configuration,
// and converts it to options of the components it configures.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1"
	gemcfg "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/gem"
	"github.com/etna-drm/bomgr/pkg/gem"
	"github.com/etna-drm/bomgr/pkg/gem/device/sim"
	"github.com/etna-drm/bomgr/pkg/gem/shmem"
	"github.com/etna-drm/bomgr/pkg/gem/vaspace"
	logger "github.com/etna-drm/bomgr/pkg/log"
)

var (
	// ErrInvalidConfig is returned for configuration which fails validation.
	ErrInvalidConfig = fmt.Errorf("config: invalid configuration")
)

const (
	// DefaultDMABase is the default base of the simulated DMA carveout.
	DefaultDMABase = 0x40000000
	// DefaultDMASize is the default size of the simulated DMA carveout.
	DefaultDMASize = 64 << 20
	// DefaultPipes is the default number of simulated GPU pipes.
	DefaultPipes = 2
	// DefaultNamespace is the default namespace of exported metrics.
	DefaultNamespace = "bomgr"
	// DefaultReportPeriod is the default interval of polling metrics.
	DefaultReportPeriod = 30 * time.Second
)

var (
	log = logger.Get("config")
)

// Default returns the default configuration.
func Default() *cfgapi.BufferManager {
	cfg := &cfgapi.BufferManager{}
	SetDefaults(cfg)
	return cfg
}

// Load loads configuration from the given file.
func Load(path string) (*cfgapi.BufferManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(data, path)
}

// Parse parses, defaults and validates the given configuration data.
func Parse(data []byte, file string) (*cfgapi.BufferManager, error) {
	cfg := &cfgapi.BufferManager{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, file, err)
	}

	if cfg.APIVersion != "" && cfg.APIVersion != cfgapi.APIVersion {
		return nil, fmt.Errorf("%w: %s: unsupported apiVersion %q", ErrInvalidConfig,
			file, cfg.APIVersion)
	}
	if cfg.Kind != "" && cfg.Kind != cfgapi.Kind {
		return nil, fmt.Errorf("%w: %s: unsupported kind %q", ErrInvalidConfig, file, cfg.Kind)
	}

	cfg.Name = file + ":" + cfg.Name
	SetDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	log.Info("loaded configuration %s", cfg.Name)

	return cfg, nil
}

// SetDefaults fills in defaults for unset configuration values.
func SetDefaults(cfg *cfgapi.BufferManager) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = cfgapi.APIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = cfgapi.Kind
	}

	m := &cfg.Spec.Manager
	if m.Name == "" {
		m.Name = "gem"
	}
	setRangeDefaults(&m.AddressSpace.Range, gem.DefaultAddressSpaceBase, gem.DefaultAddressSpaceSize)
	if m.AddressSpace.Fit == "" {
		m.AddressSpace.Fit = vaspace.FirstFit.String()
	}
	setRangeDefaults(&m.MmapOffsets, gem.DefaultMmapOffsetBase, gem.DefaultMmapOffsetSize)
	if m.FaultLog.Rate == 0 {
		m.FaultLog.Rate = float64(gem.DefaultFaultLogRate)
	}
	if m.FaultLog.Burst == 0 {
		m.FaultLog.Burst = gem.DefaultFaultLogBurst
	}

	d := &cfg.Spec.Device
	setRangeDefaults(&d.DMA, DefaultDMABase, DefaultDMASize)
	if d.IOMMU.PageSize == nil {
		d.IOMMU.PageSize = resource.NewQuantity(shmem.PageSize(), resource.BinarySI)
	}
	if d.Pipes == 0 {
		d.Pipes = DefaultPipes
	}

	i := &cfg.Spec.Instrumentation
	if i.Metrics.Namespace == "" {
		i.Metrics.Namespace = DefaultNamespace
	}
	if i.ReportPeriod.Duration == 0 {
		i.ReportPeriod = metav1.Duration{Duration: DefaultReportPeriod}
	}
}

func setRangeDefaults(r *gemcfg.Range, base, size uint64) {
	if !r.Base.IsSet() {
		r.Base = gemcfg.Address(fmt.Sprintf("0x%x", base))
	}
	if r.Size == nil {
		r.Size = resource.NewQuantity(int64(size), resource.BinarySI)
	}
}

// Validate checks the given configuration.
func Validate(cfg *cfgapi.BufferManager) error {
	m := &cfg.Spec.Manager

	if err := validateRange("addressSpace", &m.AddressSpace.Range); err != nil {
		return err
	}
	if _, err := vaspace.ParseFit(m.AddressSpace.Fit); err != nil {
		return fmt.Errorf("%w: addressSpace: %w", ErrInvalidConfig, err)
	}
	if err := validateRange("mmapOffsets", &m.MmapOffsets); err != nil {
		return err
	}
	if m.FaultLog.Rate < 0 || m.FaultLog.Burst < 0 {
		return fmt.Errorf("%w: negative fault log limit", ErrInvalidConfig)
	}

	d := &cfg.Spec.Device
	if err := validateRange("dma", &d.DMA); err != nil {
		return err
	}
	if _, err := iommuPageSize(d.IOMMU.PageSize); err != nil {
		return err
	}
	if d.Pipes < 0 {
		return fmt.Errorf("%w: negative number of pipes %d", ErrInvalidConfig, d.Pipes)
	}

	i := &cfg.Spec.Instrumentation
	if i.SamplingRatePerMillion < 0 || i.SamplingRatePerMillion > 1000000 {
		return fmt.Errorf("%w: invalid sampling rate %d per million", ErrInvalidConfig,
			i.SamplingRatePerMillion)
	}

	return nil
}

func validateRange(name string, r *gemcfg.Range) error {
	base, size, err := r.Get(0, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
	}

	page := uint64(shmem.PageSize())
	if base%page != 0 || size%page != 0 {
		return fmt.Errorf("%w: %s: range 0x%x+0x%x not page aligned", ErrInvalidConfig,
			name, base, size)
	}
	if base+size < base {
		return fmt.Errorf("%w: %s: range 0x%x+0x%x overflows", ErrInvalidConfig, name, base, size)
	}

	return nil
}

func iommuPageSize(q *resource.Quantity) (int64, error) {
	if q == nil {
		return shmem.PageSize(), nil
	}
	v, ok := q.AsInt64()
	if !ok || v <= 0 || v&(v-1) != 0 || v > shmem.PageSize() {
		return 0, fmt.Errorf("%w: invalid IOMMU page size %s", ErrInvalidConfig, q.String())
	}
	return v, nil
}

// ManagerOptions returns options for creating a manager with the given configuration.
func ManagerOptions(cfg *gemcfg.Config) ([]gem.Option, error) {
	iovaBase, iovaSize, err := cfg.AddressSpace.Get(gem.DefaultAddressSpaceBase, gem.DefaultAddressSpaceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: addressSpace: %w", ErrInvalidConfig, err)
	}
	fit := vaspace.FirstFit
	if cfg.AddressSpace.Fit != "" {
		if fit, err = vaspace.ParseFit(cfg.AddressSpace.Fit); err != nil {
			return nil, fmt.Errorf("%w: addressSpace: %w", ErrInvalidConfig, err)
		}
	}
	mmapBase, mmapSize, err := cfg.MmapOffsets.Get(gem.DefaultMmapOffsetBase, gem.DefaultMmapOffsetSize)
	if err != nil {
		return nil, fmt.Errorf("%w: mmapOffsets: %w", ErrInvalidConfig, err)
	}

	options := []gem.Option{
		gem.WithAddressSpace(iovaBase, iovaSize, fit),
		gem.WithMmapOffsets(mmapBase, mmapSize),
	}
	if cfg.Name != "" {
		options = append(options, gem.WithName(cfg.Name))
	}
	if cfg.FaultLog.Rate != 0 || cfg.FaultLog.Burst != 0 {
		options = append(options, gem.WithFaultLogLimit(rate.Limit(cfg.FaultLog.Rate), cfg.FaultLog.Burst))
	}

	return options, nil
}

// NewDevices creates the simulated devices of the given configuration.
func NewDevices(cfg *cfgapi.BufferManager) (*sim.DMA, *sim.IOMMU, error) {
	d := &cfg.Spec.Device

	base, size, err := d.DMA.Get(DefaultDMABase, DefaultDMASize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dma: %w", ErrInvalidConfig, err)
	}
	pageSize, err := iommuPageSize(d.IOMMU.PageSize)
	if err != nil {
		return nil, nil, err
	}

	dma, err := sim.NewDMA(base, size)
	if err != nil {
		return nil, nil, err
	}

	return dma, sim.NewIOMMU(pageSize), nil
}
