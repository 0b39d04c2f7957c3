package classifier

import (
	"math"
	"strings"
)

// HoursPerMonth is the billing convention for on-demand monthly estimates.
const HoursPerMonth = 730

// On-demand list prices, us-east-1, USD.
var ec2HourlyPrices = map[string]float64{
	"t2.micro":   0.0116,
	"t2.small":   0.023,
	"t2.medium":  0.0464,
	"t2.large":   0.0928,
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"t3.large":   0.0832,
	"t3.xlarge":  0.1664,
	"m5.large":   0.096,
	"m5.xlarge":  0.192,
	"m5.2xlarge": 0.384,
	"m5.4xlarge": 0.768,
	"c5.large":   0.085,
	"c5.xlarge":  0.17,
	"c5.2xlarge": 0.34,
	"r5.large":   0.126,
	"r5.xlarge":  0.252,
	"r5.2xlarge": 0.504,
}

var rdsHourlyPrices = map[string]float64{
	"db.t3.micro":   0.017,
	"db.t3.small":   0.034,
	"db.t3.medium":  0.068,
	"db.m5.large":   0.171,
	"db.m5.xlarge":  0.342,
	"db.m5.2xlarge": 0.684,
	"db.r5.large":   0.226,
	"db.r5.xlarge":  0.452,
	"db.r5.2xlarge": 0.904,
}

var s3StandardRates = map[string]float64{
	"us-east-1":      0.023,
	"us-east-2":      0.023,
	"us-west-1":      0.026,
	"us-west-2":      0.023,
	"eu-west-1":      0.024,
	"eu-central-1":   0.025,
	"ap-northeast-1": 0.025,
	"ap-southeast-1": 0.025,
	"ap-southeast-2": 0.025,
}

var loadBalancerHourlyPrices = map[string]float64{
	"application": 0.0225,
	"network":     0.0225,
	"gateway":     0.0125,
}

const (
	defaultEC2Hourly   = 0.05
	defaultRDSHourly   = 0.10
	defaultS3Rate      = 0.023
	s3InfrequentRate   = 0.0125 // Standard-IA per GB-month
	ebsGBMonth         = 0.08   // gp3
	rdsStorageGBMonth  = 0.115  // gp2
	rdsSnapshotGBMonth = 0.095
)

func ec2Hourly(instanceType string) float64 {
	if p, ok := ec2HourlyPrices[instanceType]; ok {
		return p
	}
	return defaultEC2Hourly
}

func rdsHourly(class string) float64 {
	if p, ok := rdsHourlyPrices[class]; ok {
		return p
	}
	return defaultRDSHourly
}

func s3Rate(region string) float64 {
	if r, ok := s3StandardRates[region]; ok {
		return r
	}
	return defaultS3Rate
}

func loadBalancerHourly(lbType string) float64 {
	if p, ok := loadBalancerHourlyPrices[lbType]; ok {
		return p
	}
	return loadBalancerHourlyPrices["application"]
}

var sizeLadder = []string{"nano", "micro", "small", "medium", "large", "xlarge", "2xlarge", "4xlarge", "8xlarge"}

// smallerInstanceType returns the next size down in the same family, or ""
// when there is none with a known price.
func smallerInstanceType(instanceType string) string {
	family, size, ok := strings.Cut(instanceType, ".")
	if !ok {
		return ""
	}
	for i, s := range sizeLadder {
		if s == size && i > 0 {
			candidate := family + "." + sizeLadder[i-1]
			if _, priced := ec2HourlyPrices[candidate]; priced {
				return candidate
			}
			return ""
		}
	}
	return ""
}

// cents rounds to two decimals and clamps at zero.
func cents(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Round(v*100) / 100
}
