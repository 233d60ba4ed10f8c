package config

// exampleRunConfig is printed by --json-example and `config example`.
const exampleRunConfig = `{
    "description": "RADOLAN RX composite, clustering and tracking at two scales",
    "data": {
        "variables": ["RX"],
        "vtk_dimensions": "x,y",
        "time_variable": "time"
    },
    "scales": ["10", "25"],
    "detection": {
        "meanie3D-detect": "-d x,y -v RX -w RX -r 10,10,100 --lower-thresholds RX=35 -m 10 --verbosity 1",
        "inline_tracking": false
    },
    "tracking": {
        "meanie3D-track": "-t RX --verbosity 1 --vtk-dimensions x,y",
        "inline": false
    },
    "postprocessing": {
        "tracks": {
            "meanie3D-trackstats": "-t -d x,y --vtk-dimensions x,y",
            "plot": true
        },
        "clusters": {
            "dimensions": 2,
            "variables": ["RX"],
            "lower_thresholds": [35],
            "upper_thresholds": [75],
            "var_min": [35],
            "var_max": [75],
            "colortables": ["hot_desaturated"],
            "colortables_invert_flags": [0],
            "opacity": [1.0],
            "grid_extent": "national",
            "scale_factor_z": 1.0,
            "conversion_params": "-t cluster -s true --vtk-dimensions x,y",
            "with_displacement_vectors": true,
            "with_datetime": true,
            "with_background_gradient": false,
            "with_topography": false,
            "with_source_background": false,
            "create_source_movie": true,
            "create_clusters_movie": true,
            "movie_formats": ["gif", "m4v"],
            "cluster_opacity": 1.0,
            "plot": {"pointSizePixels": 2},
            "annotation": {"axes2D.xAxis.title.units": "km"},
            "perspectives": []
        }
    }
}
`

// ExampleRunConfig returns a complete example run configuration.
func ExampleRunConfig() string {
	return exampleRunConfig
}
