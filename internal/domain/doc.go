// Package domain models radar storm cells, rainfall nowcasts, and heavy-rainfall
// warnings.
//
// # Data Source
//
// A radar composite is published every 10 minutes by the upstream radar
// processing service. The detector segments the composite into storm cells and
// the feature service derives, per cell, the variables the models consume. Both
// collaborators live outside this service; see the radar adapter.
//
// # Variables
//
// Radar variables (17), in model order:
//
//	Rmj Rmn Theta MeanZ Area Volume Top Base MaxZ MaxZhg AvgVIL MaxVIL U V
//	Direction MeanRR_prev Top10%_prev
//
// Rmj/Rmn are the major and minor radii (km), MeanZ/MaxZ reflectivity (dBZ),
// AvgVIL/MaxVIL vertically integrated liquid, U/V the advection components.
// The two "_prev" variables are the rain rates observed in the previous scan.
//
// Topographic variables (5): dist_to_sea, elevation, aspect, roughness, slope.
//
// The presence classifier reads all 22 variables (radar then topographic). The
// rain-rate regressors read the 17 radar variables only.
//
// # Storm Categories
//
//	CC   convective cell
//	MCC  mesoscale convective complex
//	SLD  squall line, disorganized
//	SLP  squall line, parallel stratiform
//	MSL  mixed squall line
//	ALL  model trained on every category
//
// Regression models exist only for CC and MSL. When the detector does not label
// a cell, [Categorize] assigns CC for cells with Rmj below 20 km and MSL otherwise.
//
// # Model Keys
//
// Every trained artifact is addressed by a [ModelKey] of (category, horizon,
// role). The same key builds the artifact path at training time and at load
// time, so the two sides cannot drift apart. Keys render as
// "<category>_<horizon>_<role>", e.g. "CC_30min_regressor-top10".
//
// # Rain Rates
//
// Rain rates are in mm/h. "Top-10%" is the mean rate of the most intense 10% of
// pixels inside the cell footprint. A warning is issued when the predicted
// top-10% rate reaches the configured threshold (30 mm/h by default).
package domain
