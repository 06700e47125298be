// README: Vehicle categories and the synonym set used for captain/ride compatibility.
package matching

type VehicleType string

const (
	VehicleUnknown VehicleType = ""
	VehicleCar     VehicleType = "car"
	VehicleMoto    VehicleType = "moto"
	VehicleAuto    VehicleType = "auto"
)

// vehicleSynonyms folds the free-text vehicle labels seen on captain profiles and ride
// requests into the closed set. Keys are lower-case with spaces, dashes and underscores removed.
var vehicleSynonyms = map[string]VehicleType{
	"car":       VehicleCar,
	"sedan":     VehicleCar,
	"hatchback": VehicleCar,
	"suv":       VehicleCar,

	"moto":       VehicleMoto,
	"motorcycle": VehicleMoto,
	"motorbike":  VehicleMoto,
	"scooter":    VehicleMoto,
	"bike":       VehicleMoto,

	"auto":         VehicleAuto,
	"autorickshaw": VehicleAuto,
	"rickshaw":     VehicleAuto,
	"tuktuk":       VehicleAuto,
}

// VehicleTypes lists the closed set in display order.
var VehicleTypes = []VehicleType{VehicleCar, VehicleMoto, VehicleAuto}
