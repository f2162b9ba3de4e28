// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "strconv"

// Matches reports whether every criterion individually matches d; a
// missing/zero-value criterion is a wildcard.
func (sel *DeviceSelection) Matches(d *Device) bool {
	if sel == nil {
		return true
	}
	if len(sel.Serials) > 0 && !containsString(sel.Serials, d.DeviceID) {
		return false
	}
	if containsString(sel.ExcludeSerials, d.DeviceID) {
		return false
	}
	if len(sel.ProductTypes) > 0 && !intersects(sel.ProductTypes, d.Types) {
		return false
	}
	for k, v := range sel.Properties {
		if d.Dimensions[k] != v {
			return false
		}
	}
	if sel.MinBatteryLevel > 0 && intDim(d, "battery_level") < sel.MinBatteryLevel {
		return false
	}
	if sel.MaxBatteryLevel > 0 && intDim(d, "battery_level") > sel.MaxBatteryLevel {
		return false
	}
	if sel.MaxBatteryTemperature > 0 && intDim(d, "battery_temperature") > sel.MaxBatteryTemperature {
		return false
	}
	if sel.MinSDKLevel > 0 && intDim(d, "sdk_level") < sel.MinSDKLevel {
		return false
	}
	if sel.MaxSDKLevel > 0 && intDim(d, "sdk_level") > sel.MaxSDKLevel {
		return false
	}
	return true
}

func intDim(d *Device, key string) int {
	v, err := strconv.Atoi(d.Dimensions[key])
	if err != nil {
		return 0
	}
	return v
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if containsString(b, x) {
			return true
		}
	}
	return false
}
